// Package queue defines the priority channel contract between the
// dispatcher and the workers, and an in-process implementation of it.
// Only a task reference crosses the channel; consumers re-read the task.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/domain"
)

// ContentType is the media type of an encoded Message.
const ContentType = "application/json"

// Message is the payload published for each dispatched task.
type Message struct {
	TaskID   uuid.UUID       `json:"task_id"`
	Priority domain.Priority `json:"priority"`
}

// Encode serialises m to JSON.
func Encode(m Message) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) validate() error {
	if m.TaskID == uuid.Nil {
		return fmt.Errorf("%w: missing task_id", ErrMalformedMessage)
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrMalformedMessage, m.Priority)
	}
	return nil
}

// Publisher places messages on the channel matching their priority.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Delivery is a received message awaiting settlement. Exactly one of Ack,
// Nak or Term should be called.
type Delivery interface {
	// Data returns the encoded message.
	Data() []byte

	// Ack removes the message from the channel.
	Ack(ctx context.Context) error

	// Nak asks for the message to be redelivered once delay has passed.
	// A zero delay redelivers immediately.
	Nak(ctx context.Context, delay time.Duration) error

	// Term drops a message that can never be processed.
	Term(ctx context.Context) error
}

// Subscriber hands out deliveries from one priority channel at a time.
type Subscriber interface {
	// Receive blocks until a message is available on the channel for
	// priority, ctx is done, or the transport is closed.
	Receive(ctx context.Context, priority domain.Priority) (Delivery, error)
}

// Transport is both ends of the priority channels.
type Transport interface {
	Publisher
	Subscriber
}
