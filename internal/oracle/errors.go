package oracle

import (
	"errors"
	"fmt"
)

var (
	// ErrOracleUnavailable is returned once every attempt has failed.
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrInvalidRequest marks input problems that are never retried.
	ErrInvalidRequest = errors.New("invalid oracle request")
)

// AttemptError describes one failed oracle call.
type AttemptError struct {
	Attempt    int
	StatusCode int
	Message    string
	Err        error
}

func (e *AttemptError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("oracle attempt %d: status %d: %s", e.Attempt, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("oracle attempt %d: %s: %v", e.Attempt, e.Message, e.Err)
	default:
		return fmt.Sprintf("oracle attempt %d: %s", e.Attempt, e.Message)
	}
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}
