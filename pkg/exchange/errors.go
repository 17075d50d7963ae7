package exchange

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed submission. It names the offending
// field so the caller can return a useful client error. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrEngineClosed is returned by Submit after the engine has shut down.
var ErrEngineClosed = errors.New("engine closed")

// TransientError wraps an infrastructure failure (store timeout, transport
// unavailability) that is eligible for retry with backoff. Anything not
// marked transient is treated as permanent and surfaced immediately.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
