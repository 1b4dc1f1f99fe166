package queue

import (
	"errors"
	"fmt"
)

// Common errors returned by transports
var (
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport error")

	ErrQueueClosed      = errors.New("task queue is closed")
	ErrQueueFull        = errors.New("task queue is full")
	ErrMalformedMessage = errors.New("malformed task message")
)

// TransportError reports a failed broker operation.
type TransportError struct {
	Op  string // "publish", "receive", "ack", ...
	Err error
}

// NewTransportError wraps err as a TransportError for op.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransport as a match so callers can test the category.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
