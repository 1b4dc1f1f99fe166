package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/tasker/internal/domain"
)

// ChannelTransport implements Transport with one buffered Go channel per
// priority. Messages do not survive a restart.
type ChannelTransport struct {
	queues map[domain.Priority]chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	acked, naked, termed atomic.Int64
}

// NewChannelTransport creates a transport whose channels each buffer size messages.
func NewChannelTransport(size int, logger *slog.Logger) *ChannelTransport {
	if logger == nil {
		logger = slog.Default()
	}

	queues := make(map[domain.Priority]chan []byte, len(domain.Priorities))
	for _, p := range domain.Priorities {
		queues[p] = make(chan []byte, size)
	}

	return &ChannelTransport{
		queues: queues,
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "channel_transport")),
	}
}

var _ Transport = (*ChannelTransport)(nil)

// Publish implements Publisher. It never blocks: a full channel is an error.
func (t *ChannelTransport) Publish(ctx context.Context, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return NewTransportError("publish", err)
	}
	return t.enqueue(m.Priority, data)
}

func (t *ChannelTransport) enqueue(p domain.Priority, data []byte) error {
	select {
	case <-t.done:
		return NewTransportError("publish", ErrQueueClosed)
	default:
	}

	q := t.queues[p]
	select {
	case q <- data:
		t.logger.Debug("message enqueued",
			slog.String("priority", string(p)),
			slog.Int("queue_len", len(q)),
			slog.Int("queue_cap", cap(q)))
		return nil
	default:
		return NewTransportError("publish",
			fmt.Errorf("%w: %s capacity %d reached", ErrQueueFull, p, cap(q)))
	}
}

// Receive implements Subscriber.
func (t *ChannelTransport) Receive(ctx context.Context, priority domain.Priority) (Delivery, error) {
	q, ok := t.queues[priority]
	if !ok {
		return nil, NewTransportError("receive", fmt.Errorf("unknown priority %q", priority))
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrQueueClosed
	case data := <-q:
		return &channelDelivery{t: t, priority: priority, data: data}, nil
	}
}

// Len returns the number of messages waiting on the channel for p.
func (t *ChannelTransport) Len(p domain.Priority) int {
	return len(t.queues[p])
}

// Stats returns how many deliveries were acked, nak'd and terminated.
func (t *ChannelTransport) Stats() (acked, naked, termed int64) {
	return t.acked.Load(), t.naked.Load(), t.termed.Load()
}

// IsConnected reports whether the transport is still open.
func (t *ChannelTransport) IsConnected() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Close stops all pending and future Receive calls.
func (t *ChannelTransport) Close() {
	t.once.Do(func() {
		close(t.done)
		t.logger.Info("channel transport closed")
	})
}

type channelDelivery struct {
	t        *ChannelTransport
	priority domain.Priority
	data     []byte
	settled  atomic.Bool
}

func (d *channelDelivery) Data() []byte { return d.data }

func (d *channelDelivery) Ack(ctx context.Context) error {
	if d.settled.CompareAndSwap(false, true) {
		d.t.acked.Add(1)
	}
	return nil
}

// Nak puts the message back at the tail of its channel, after delay when
// one is given. A transport closed in the meantime drops it.
func (d *channelDelivery) Nak(ctx context.Context, delay time.Duration) error {
	if !d.settled.CompareAndSwap(false, true) {
		return nil
	}
	d.t.naked.Add(1)
	if delay <= 0 {
		return d.t.enqueue(d.priority, d.data)
	}
	time.AfterFunc(delay, func() {
		if err := d.t.enqueue(d.priority, d.data); err != nil {
			d.t.logger.Warn("dropping delayed redelivery",
				slog.String("priority", string(d.priority)),
				slog.String("error", err.Error()))
		}
	})
	return nil
}

func (d *channelDelivery) Term(ctx context.Context) error {
	if d.settled.CompareAndSwap(false, true) {
		d.t.termed.Add(1)
	}
	return nil
}
