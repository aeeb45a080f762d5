package taskmanager

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidInput = errors.New("invalid input")

	// The following are recorded against a failed Task rather than returned
	// to the caller that started it.

	ErrWorkerFailure = errors.New("worker failure")
	ErrTimeout       = errors.New("worker timed out")
	ErrInternal      = errors.New("internal error")
)

// InvalidStateError is returned when attempting an invalid Task state
// transition.
type InvalidStateError struct {
	from TaskState
	to   TaskState
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot go from %s to %s", e.from, e.to)
}

func NewInvalidStateError(from, to TaskState) InvalidStateError {
	return InvalidStateError{from, to}
}
