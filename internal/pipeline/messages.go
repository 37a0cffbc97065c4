package pipeline

import (
	"context"
	"errors"

	"github.com/dgallion1/quizgest/internal/extract"
	"github.com/dgallion1/quizgest/internal/netcheck"
	"github.com/dgallion1/quizgest/internal/render"
)

// ErrEmptyResult means every batch ran but no question survived.
var ErrEmptyResult = errors.New("no questions found")

const (
	MsgNoConnectivity   = "No internet connection. Please connect and try again."
	MsgUnreachable      = "Could not connect to the server. Please check your internet connection."
	MsgOverloaded       = "The AI model is currently overloaded. Please try again in a few moments."
	MsgStoppedPrefix    = "The AI stopped processing. Reason: "
	MsgEmptyResult      = "The AI could not find any questions in the document."
	MsgCancelled        = "Processing was cancelled."
	MsgUnexpectedFailed = "An unexpected error occurred."
)

// Message translates a run failure into the text shown to users.
func Message(err error) string {
	var (
		docErr  *render.DocumentError
		stopErr *extract.StoppedError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, netcheck.ErrNoConnectivity):
		return MsgNoConnectivity
	case errors.Is(err, ErrEmptyResult):
		return MsgEmptyResult
	case errors.As(err, &docErr):
		return docErr.Error()
	case errors.As(err, &stopErr):
		return MsgStoppedPrefix + stopErr.Reason
	case errors.Is(err, extract.ErrUnreachable):
		return MsgUnreachable
	case extract.IsRetryable(err):
		return MsgOverloaded
	case errors.Is(err, context.Canceled):
		return MsgCancelled
	default:
		return MsgUnexpectedFailed
	}
}
