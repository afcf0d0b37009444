package remote

import (
	"errors"
	"fmt"
)

// NetworkError wraps transport and IO failures. A pass that hits one
// aborts cleanly and may be retried later.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ActionError wraps protocol and structural failures: malformed
// responses, unresolvable references, broken invariants. Not
// retryable without intervention.
type ActionError struct {
	Msg string
	Err error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func netErr(op string, err error) error {
	return &NetworkError{Op: op, Err: err}
}

func actionErr(format string, args ...interface{}) error {
	return &ActionError{Msg: fmt.Sprintf(format, args...)}
}

// IsNetworkError reports whether err wraps a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsActionError reports whether err wraps an ActionError.
func IsActionError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}
