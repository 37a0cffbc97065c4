package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dgallion1/quizgest/internal/extract"
	"github.com/dgallion1/quizgest/internal/netcheck"
	"github.com/dgallion1/quizgest/internal/render"
)

func TestMessage(t *testing.T) {
	docErr := &render.DocumentError{Op: "open", Err: errors.New("not a pdf")}
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"no connectivity", fmt.Errorf("check: %w", netcheck.ErrNoConnectivity), MsgNoConnectivity},
		{"unreachable", fmt.Errorf("batch 0: %w", extract.ErrUnreachable), MsgUnreachable},
		{"overloaded", &extract.RetryableError{StatusCode: 529}, MsgOverloaded},
		{"stopped", fmt.Errorf("batch 1: %w", &extract.StoppedError{Reason: "SAFETY"}), "The AI stopped processing. Reason: SAFETY"},
		{"empty", ErrEmptyResult, MsgEmptyResult},
		{"document", docErr, docErr.Error()},
		{"cancelled", context.Canceled, MsgCancelled},
		{"other", errors.New("weird"), MsgUnexpectedFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.err); got != tt.want {
				t.Errorf("Message(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
