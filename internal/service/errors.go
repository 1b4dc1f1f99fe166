package service

import (
	"errors"

	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/store"
)

// TaskServiceError marks a failure the caller cannot act on, such as a
// lost database connection, and names the operation it interrupted.
type TaskServiceError struct {
	Operation string
	Message   string
	Err       error
}

func (e *TaskServiceError) Error() string {
	s := e.Operation + " operation failed: " + e.Message
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *TaskServiceError) Unwrap() error { return e.Err }

func NewTaskServiceError(operation, message string, err error) *TaskServiceError {
	return &TaskServiceError{Operation: operation, Message: message, Err: err}
}

// wrap leaves not-found, conflict and validation errors untouched so the
// API can map them; anything else becomes a *TaskServiceError.
func wrap(operation, message string, err error) error {
	switch {
	case err == nil,
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrValidation):
		return err
	}
	return NewTaskServiceError(operation, message, err)
}
