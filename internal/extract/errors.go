package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnreachable means the model host could not be resolved or dialed.
var ErrUnreachable = errors.New("model host unreachable")

// RetryableError indicates a transient failure (overload, rate limit,
// server error) that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// StoppedError means the model refused or halted generation.
type StoppedError struct {
	Reason string
}

func (e *StoppedError) Error() string {
	return "model stopped: " + e.Reason
}

// transportError tags DNS and dial failures with ErrUnreachable so callers
// can tell "no route to the model" apart from other request failures.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnreachable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%s: %w: %w", op, ErrUnreachable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// overloadStatus reports HTTP statuses that mean "try again later".
func overloadStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
