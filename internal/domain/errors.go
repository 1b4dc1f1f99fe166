package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = fmt.Errorf("%w: invalid ID", ErrValidation)

	// ErrInvalidPriority is returned when a priority is not one of LOW, MEDIUM or HIGH.
	ErrInvalidPriority = fmt.Errorf("%w: invalid task priority", ErrValidation)

	// ErrInvalidStatus is returned when a status name is not recognised.
	ErrInvalidStatus = fmt.Errorf("%w: invalid task status", ErrValidation)

	// ErrConflict is returned when a status transition is not permitted
	// from the task's current status.
	ErrConflict = errors.New("status conflict")

	// ErrNotCancellable is returned when a cancel is requested for a task
	// that has already reached a terminal status. It matches ErrConflict.
	ErrNotCancellable = fmt.Errorf("%w: task cannot be cancelled", ErrConflict)
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError for field. If err is nil,
// ErrValidation is used so the result always matches ErrValidation.
func NewValidationError(field, message string, err error) *ValidationError {
	if err == nil {
		err = ErrValidation
	}
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	TaskID uuid.UUID
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot transition from %s to %s", e.TaskID, e.From, e.To)
}

// Unwrap makes every TransitionError match ErrConflict. Rejected cancels
// additionally match ErrNotCancellable.
func (e *TransitionError) Unwrap() error {
	if e.To == StatusCancelled {
		return ErrNotCancellable
	}
	return ErrConflict
}
