// Package worker consumes the priority channels and drives each received
// task through claim, execution and its terminal transition.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/phrazzld/tasker/internal/config"
	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/lifecycle"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/phrazzld/tasker/internal/platform/telemetry"
	"github.com/phrazzld/tasker/internal/queue"
	"github.com/phrazzld/tasker/internal/redact"
	"github.com/phrazzld/tasker/internal/store"
)

// receiveBackoff is how long a consumer waits after a transport error.
const receiveBackoff = time.Second

// storeRetryDelay is both the redelivery delay of a message nak'd because
// the task store failed and the pause its consumer takes before the next
// receive.
const storeRetryDelay = time.Second

// settleTimeout bounds store writes and acks made after shutdown began.
const settleTimeout = 5 * time.Second

// Pool runs consumer loops for every priority channel.
type Pool struct {
	engine     *lifecycle.Engine
	subscriber queue.Subscriber
	executor   Executor
	consumers  int
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
	retryDelay time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPool creates a Pool with cfg.ConsumersPerPriority loops per priority.
func NewPool(
	engine *lifecycle.Engine,
	subscriber queue.Subscriber,
	executor Executor,
	cfg config.WorkerConfig,
	logger *slog.Logger,
) (*Pool, error) {
	if engine == nil {
		return nil, fmt.Errorf("lifecycle engine cannot be nil")
	}
	if subscriber == nil {
		return nil, fmt.Errorf("subscriber cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	consumers := cfg.ConsumersPerPriority
	if consumers <= 0 {
		logger.Warn("invalid consumer count specified, using default",
			slog.Int("specified_count", cfg.ConsumersPerPriority),
			slog.Int("default_count", 1))
		consumers = 1
	}

	name := telemetry.InstrumentationName + "/worker"
	duration, err := otel.Meter(name).Float64Histogram("tasks.execution.duration",
		metric.WithDescription("Task execution time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create execution duration histogram: %w", err)
	}

	return &Pool{
		engine:     engine,
		subscriber: subscriber,
		executor:   executor,
		consumers:  consumers,
		logger:     logger.With(slog.String("component", "worker")),
		tracer:     otel.Tracer(name),
		duration:   duration,
		retryDelay: storeRetryDelay,
	}, nil
}

// Start launches the consumer loops. Calling Start on a running pool is a
// no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for _, priority := range domain.Priorities {
		for i := 0; i < p.consumers; i++ {
			p.wg.Add(1)
			go p.consume(ctx, priority, i)
		}
	}

	p.logger.Info("worker pool started",
		slog.Int("consumers_per_priority", p.consumers))
}

// Stop cancels the consumer loops and waits for them to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) consume(ctx context.Context, priority domain.Priority, id int) {
	defer p.wg.Done()

	log := p.logger.With(
		slog.String("priority", string(priority)),
		slog.Int("consumer_id", id))
	log.Debug("starting consumer")

	for {
		d, err := p.subscriber.Receive(ctx, priority)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				log.Debug("stopping consumer")
				return
			}

			log.Error("failed to receive message", slog.String("error", redact.Error(err)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}

		if !p.handle(logger.WithLogger(ctx, log), d) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.retryDelay):
		}
	}
}

// handle applies the per-message contract to one delivery and always
// settles it. It reports true when the task store failed and the message
// was nak'd, so the caller can back off.
func (p *Pool) handle(ctx context.Context, d queue.Delivery) (storeFailed bool) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	msg, err := queue.Decode(d.Data())
	if err != nil {
		log.Error("discarding malformed message", slog.String("error", redact.Error(err)))
		p.settle(ctx, log, "term", d.Term)
		return false
	}

	ctx, span := p.tracer.Start(ctx, "worker.handle", trace.WithAttributes(
		attribute.String("task.id", msg.TaskID.String()),
		attribute.String("task.priority", string(msg.Priority))))
	defer span.End()

	log = log.With(slog.String("task_id", msg.TaskID.String()))
	ctx = logger.WithLogger(ctx, log)

	task, err := p.engine.Get(ctx, msg.TaskID)
	switch {
	case store.IsNotFoundError(err):
		log.Warn("task not found, discarding message")
		p.settle(ctx, log, "ack", d.Ack)
		return false
	case err != nil:
		log.Error("failed to load task, requesting redelivery", slog.String("error", redact.Error(err)))
		span.SetStatus(codes.Error, "load failed")
		p.nak(ctx, log, d)
		return true
	case task.Status != domain.StatusPending:
		log.Info("task is no longer pending, discarding message",
			slog.String("status", string(task.Status)))
		p.settle(ctx, log, "ack", d.Ack)
		return false
	}

	task, err = p.engine.Claim(ctx, task.ID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.Info("task claimed or cancelled concurrently, discarding message")
			p.settle(ctx, log, "ack", d.Ack)
			return false
		}
		log.Error("failed to claim task, requesting redelivery", slog.String("error", redact.Error(err)))
		span.SetStatus(codes.Error, "claim failed")
		p.nak(ctx, log, d)
		return true
	}

	log.Info("processing task")
	start := time.Now()
	result, execErr := safeExecute(ctx, p.executor, task)
	p.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("priority", string(task.Priority))))

	// The task is ours now; finish it even if shutdown has begun.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "execution failed")
		log.Error("task execution failed", slog.String("error", execErr.Error()))
		_, err = p.engine.Fail(settleCtx, task.ID, execErr.Error())
	} else {
		_, err = p.engine.Complete(settleCtx, task.ID, result)
	}

	switch {
	case err == nil && execErr == nil:
		log.Info("task completed successfully")
	case errors.Is(err, domain.ErrConflict):
		log.Info("task was cancelled during execution, keeping cancellation")
	case err != nil:
		log.Error("failed to record task outcome", slog.String("error", redact.Error(err)))
	}

	p.settle(settleCtx, log, "ack", d.Ack)
	return false
}

func (p *Pool) nak(ctx context.Context, log *slog.Logger, d queue.Delivery) {
	p.settle(ctx, log, "nak", func(ctx context.Context) error {
		return d.Nak(ctx, p.retryDelay)
	})
}

func (p *Pool) settle(ctx context.Context, log *slog.Logger, op string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		defer cancel()
	}
	if err := fn(ctx); err != nil {
		log.Error("failed to settle message",
			slog.String("op", op),
			slog.String("error", redact.Error(err)))
	}
}
