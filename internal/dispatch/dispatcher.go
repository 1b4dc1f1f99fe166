// Package dispatch turns accepted submissions into queued work: it creates
// the task, marks it PENDING and publishes a reference to it on the
// channel matching its priority.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/lifecycle"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/phrazzld/tasker/internal/platform/telemetry"
	"github.com/phrazzld/tasker/internal/queue"
	"github.com/phrazzld/tasker/internal/redact"
)

// Dispatcher creates tasks and publishes them to the priority channels.
type Dispatcher struct {
	engine    *lifecycle.Engine
	publisher queue.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer

	dispatched      metric.Int64Counter
	publishFailures metric.Int64Counter
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(engine *lifecycle.Engine, publisher queue.Publisher, logger *slog.Logger) (*Dispatcher, error) {
	if engine == nil {
		return nil, fmt.Errorf("lifecycle engine cannot be nil")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	name := telemetry.InstrumentationName + "/dispatch"
	meter := otel.Meter(name)
	dispatched, err := meter.Int64Counter("tasks.dispatched",
		metric.WithDescription("Tasks published to a priority channel"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatched counter: %w", err)
	}
	publishFailures, err := meter.Int64Counter("tasks.publish.failures",
		metric.WithDescription("Failed publications of pending tasks"))
	if err != nil {
		return nil, fmt.Errorf("failed to create publish failures counter: %w", err)
	}

	return &Dispatcher{
		engine:          engine,
		publisher:       publisher,
		logger:          logger.With(slog.String("component", "dispatcher")),
		tracer:          otel.Tracer(name),
		dispatched:      dispatched,
		publishFailures: publishFailures,
	}, nil
}

// Submit creates a task, marks it PENDING and publishes it. A publication
// failure does not fail the submission: the task is returned in PENDING
// and left for the reconciler to republish. A task cancelled before it
// reached PENDING is returned as stored and never published. Validation
// and storage errors are returned as is.
func (d *Dispatcher) Submit(ctx context.Context, params lifecycle.NewTaskParams) (*domain.Task, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.submit",
		trace.WithAttributes(attribute.String("task.priority", string(params.Priority))))
	defer span.End()

	task, err := d.engine.Create(ctx, params)
	if err != nil {
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("task.id", task.ID.String()))

	created := task
	task, err = d.engine.MarkPending(ctx, created.ID)
	if errors.Is(err, domain.ErrConflict) {
		return d.settled(ctx, created)
	}
	if err != nil {
		span.SetStatus(codes.Error, "mark pending failed")
		return nil, fmt.Errorf("failed to mark task pending: %w", err)
	}

	if err := d.Publish(ctx, task); err != nil {
		span.RecordError(err)
	}
	return task, nil
}

// settled returns a task that left NEW through another writer, normally a
// cancel racing the submission. The row exists, so the submission
// succeeds with the stored state.
func (d *Dispatcher) settled(ctx context.Context, created *domain.Task) (*domain.Task, error) {
	task, err := d.engine.Get(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload task: %w", err)
	}
	logger.FromContextOrDefault(ctx, d.logger).Info("task settled before dispatch, not publishing",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))
	return task, nil
}

// Publish sends a reference to task on its priority channel. Failures are
// logged and counted before being returned.
func (d *Dispatcher) Publish(ctx context.Context, task *domain.Task) error {
	attrs := metric.WithAttributes(attribute.String("priority", string(task.Priority)))

	err := d.publisher.Publish(ctx, queue.Message{TaskID: task.ID, Priority: task.Priority})
	if err != nil {
		d.publishFailures.Add(ctx, 1, attrs)
		logger.FromContextOrDefault(ctx, d.logger).Error("failed to publish task",
			slog.String("task_id", task.ID.String()),
			slog.String("priority", string(task.Priority)),
			slog.String("error", redact.Error(err)))
		return err
	}

	d.dispatched.Add(ctx, 1, attrs)
	logger.FromContextOrDefault(ctx, d.logger).Debug("task published",
		slog.String("task_id", task.ID.String()),
		slog.String("priority", string(task.Priority)))
	return nil
}
