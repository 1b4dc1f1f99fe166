// Package broker implements the priority channels on NATS JetStream.
//
// One work-queue stream holds a subject per priority (tasks.high,
// tasks.medium, tasks.low). Each subject has its own durable pull consumer
// with explicit acknowledgement, so the three channels are delivered
// independently and a message is removed only once it is acked.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/phrazzld/tasker/internal/config"
	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/queue"
	"github.com/phrazzld/tasker/internal/redact"
)

// fetchWait bounds each pull so Receive can notice context cancellation.
const fetchWait = time.Second

// Subject returns the subject carrying messages of priority p.
func Subject(p domain.Priority) string {
	return "tasks." + strings.ToLower(string(p))
}

// ConsumerName returns the durable consumer name for priority p.
func ConsumerName(p domain.Priority) string {
	return "tasks-" + strings.ToLower(string(p))
}

// JetStream is a queue.Transport backed by a NATS JetStream stream.
type JetStream struct {
	nc        *nats.Conn
	js        jetstream.JetStream
	cfg       config.BrokerConfig
	consumers map[domain.Priority]jetstream.Consumer
	logger    *slog.Logger
}

var _ queue.Transport = (*JetStream)(nil)

// Connect dials the NATS server, then creates or updates the stream and the
// per-priority consumers described by cfg.
func Connect(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (*JetStream, error) {
	logger = logger.With(slog.String("component", "broker"))

	nc, err := nats.Connect(cfg.URL,
		nats.Name("tasker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("broker disconnected", slog.String("error", redact.Error(err)))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("broker reconnected", slog.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, queue.NewTransportError("connect", err)
	}

	b, err := newJetStream(ctx, nc, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func newJetStream(ctx context.Context, nc *nats.Conn, cfg config.BrokerConfig, logger *slog.Logger) (*JetStream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, queue.NewTransportError("jetstream", err)
	}

	subjects := make([]string, 0, len(domain.Priorities))
	for _, p := range domain.Priorities {
		subjects = append(subjects, Subject(p))
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   subjects,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	}); err != nil {
		return nil, queue.NewTransportError("create stream", err)
	}

	b := &JetStream{
		nc:        nc,
		js:        js,
		cfg:       cfg,
		consumers: make(map[domain.Priority]jetstream.Consumer, len(domain.Priorities)),
		logger:    logger,
	}

	for _, p := range domain.Priorities {
		cons, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
			Durable:       ConsumerName(p),
			FilterSubject: Subject(p),
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       cfg.AckWait,
			MaxAckPending: cfg.MaxAckPending,
			MaxDeliver:    cfg.MaxDeliver,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return nil, queue.NewTransportError("create consumer", fmt.Errorf("%s: %w", ConsumerName(p), err))
		}
		b.consumers[p] = cons
	}

	logger.Info("broker ready",
		slog.String("stream", cfg.Stream),
		slog.Any("subjects", subjects))
	return b, nil
}

// Publish implements queue.Publisher. The message is persisted by the
// stream before Publish returns.
func (b *JetStream) Publish(ctx context.Context, m queue.Message) error {
	data, err := queue.Encode(m)
	if err != nil {
		return queue.NewTransportError("publish", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	msg := nats.NewMsg(Subject(m.Priority))
	msg.Data = data
	msg.Header.Set("Content-Type", queue.ContentType)

	ack, err := b.js.PublishMsg(ctx, msg, jetstream.WithMsgID(uuid.NewString()))
	if err != nil {
		return queue.NewTransportError("publish", err)
	}

	b.logger.Debug("message published",
		slog.String("task_id", m.TaskID.String()),
		slog.String("subject", msg.Subject),
		slog.Uint64("sequence", ack.Sequence))
	return nil
}

// Receive implements queue.Subscriber.
func (b *JetStream) Receive(ctx context.Context, priority domain.Priority) (queue.Delivery, error) {
	cons, ok := b.consumers[priority]
	if !ok {
		return nil, queue.NewTransportError("receive", fmt.Errorf("unknown priority %q", priority))
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if b.nc.IsClosed() {
			return nil, queue.ErrQueueClosed
		}

		msg, err := cons.Next(jetstream.FetchMaxWait(fetchWait))
		if err == nil {
			return &delivery{msg: msg}, nil
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, queue.ErrQueueClosed
		}
		return nil, queue.NewTransportError("receive", err)
	}
}

// IsConnected reports whether the NATS connection is currently up.
func (b *JetStream) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Close drains the connection so in-flight acks are flushed.
func (b *JetStream) Close() error {
	if b.nc == nil || b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return queue.NewTransportError("close", err)
	}
	return nil
}

type delivery struct {
	msg jetstream.Msg
}

func (d *delivery) Data() []byte { return d.msg.Data() }

// Ack waits for the server to confirm the acknowledgement.
func (d *delivery) Ack(ctx context.Context) error {
	if err := d.msg.DoubleAck(ctx); err != nil {
		return queue.NewTransportError("ack", err)
	}
	return nil
}

// Nak hands the redelivery delay to the server.
func (d *delivery) Nak(ctx context.Context, delay time.Duration) error {
	var err error
	if delay > 0 {
		err = d.msg.NakWithDelay(delay)
	} else {
		err = d.msg.Nak()
	}
	if err != nil {
		return queue.NewTransportError("nak", err)
	}
	return nil
}

func (d *delivery) Term(ctx context.Context) error {
	if err := d.msg.Term(); err != nil {
		return queue.NewTransportError("term", err)
	}
	return nil
}
