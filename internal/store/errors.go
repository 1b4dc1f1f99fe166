package store

import (
	"errors"
	"fmt"
)

// Sentinels shared by the Postgres and in-memory task stores. Callers
// match them with errors.Is; drivers wrap them with context.
var (
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate maps unique-key violations, in practice a reused task ID.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity maps check and not-null violations, and rows that
	// fail domain validation on the way in or out.
	ErrInvalidEntity = errors.New("invalid entity")

	ErrTransactionFailed = errors.New("transaction failed")

	// ErrStatusMismatch is returned by CompareAndSetStatus when the stored
	// status differs from the expected one. Nothing is written.
	ErrStatusMismatch = errors.New("status changed concurrently")

	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)
)

// IsNotFoundError reports whether err matches ErrNotFound or anything
// derived from it, such as ErrTaskNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StoreError records which store operation failed on which entity. Its
// message reads "<op> operation on <entity> failed: <msg>[: <cause>]".
type StoreError struct {
	Entity    string
	Operation string
	Message   string
	Err       error
}

func (e *StoreError) Error() string {
	msg := e.Operation + " operation on " + e.Entity + " failed: " + e.Message
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps cause, which may be nil.
func NewStoreError(entity, operation, message string, cause error) *StoreError {
	return &StoreError{Entity: entity, Operation: operation, Message: message, Err: cause}
}
