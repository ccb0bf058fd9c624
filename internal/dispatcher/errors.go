package dispatcher

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrStatusTransitionDenied is returned when a status update would regress
	// from a terminal state (completed/failed/cancelled).
	ErrStatusTransitionDenied = errors.New("status transition denied: execution already in terminal state")

	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionRunning  = errors.New("execution is running")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	ErrEmptyActionType   = errors.New("action type is required")
)

// HandlerExecutionError wraps a failed or panicking handler call. It is
// retryable until the execution runs out of retries.
type HandlerExecutionError struct {
	ActionType string
	Attempt    int
	Err        error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("action %s attempt %d: %v", e.ActionType, e.Attempt, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed record store write. It is logged and
// never stops the in-memory state machine.
type PersistenceError struct {
	Op          string
	ExecutionID uuid.UUID
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s execution=%s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// errorMessage is the message recorded on the execution: the handler's own
// error text, without the attempt wrapper.
func errorMessage(err error) string {
	var herr *HandlerExecutionError
	if errors.As(err, &herr) && herr.Err != nil {
		return herr.Err.Error()
	}
	return err.Error()
}
