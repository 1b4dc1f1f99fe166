// Package lifecycle owns every write to a task. It validates status
// transitions against domain.CanTransition and applies them with a
// compare-and-set on the store, so concurrent writers cannot move a task
// along an illegal edge.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/phrazzld/tasker/internal/platform/telemetry"
	"github.com/phrazzld/tasker/internal/store"
)

// DefaultMaxAttempts bounds how often Transition re-reads a task after
// losing a compare-and-set race.
const DefaultMaxAttempts = 3

// NewTaskParams are the caller-supplied fields of a new task.
type NewTaskParams struct {
	Title       string
	Description string
	Priority    domain.Priority
}

// Fields are the optional outcome values written with a transition.
// Result is accepted only when completing, Error only when failing.
type Fields struct {
	Result *string
	Error  *string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// Engine is the task state machine.
type Engine struct {
	store       store.TaskStore
	now         func() time.Time
	maxAttempts int
	logger      *slog.Logger

	transitions metric.Int64Counter
	conflicts   metric.Int64Counter
}

// NewEngine creates an Engine over s.
func NewEngine(s store.TaskStore, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter(telemetry.InstrumentationName + "/lifecycle")
	transitions, err := meter.Int64Counter("tasks.transitions",
		metric.WithDescription("Applied task status transitions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}
	conflicts, err := meter.Int64Counter("tasks.transition.conflicts",
		metric.WithDescription("Rejected task status transitions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create conflicts counter: %w", err)
	}

	e := &Engine{
		store:       s,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.With(slog.String("component", "lifecycle")),
		transitions: transitions,
		conflicts:   conflicts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Create validates p and stores a new task in status NEW.
func (e *Engine) Create(ctx context.Context, p NewTaskParams) (*domain.Task, error) {
	task, err := domain.NewTask(p.Title, p.Description, p.Priority, e.now())
	if err != nil {
		return nil, err
	}

	if err := e.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	logger.FromContextOrDefault(ctx, e.logger).Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("priority", string(task.Priority)))
	return task, nil
}

// Get returns the task with the given ID.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return e.store.GetByID(ctx, id)
}

// List returns tasks matching filter.
func (e *Engine) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	return e.store.List(ctx, filter)
}

// Transition moves the task to status to if that is legal from its
// current status. It returns a *domain.TransitionError (matching
// domain.ErrConflict) when the move is illegal, and store.ErrTaskNotFound
// when the task does not exist. Losing a race to another writer causes a
// re-read, so the legality check always uses the latest persisted status.
func (e *Engine) Transition(ctx context.Context, id uuid.UUID, to domain.Status, f Fields) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("task_id", id.String()),
		slog.String("to", string(to)))

	if err := checkFields(to, f); err != nil {
		return nil, err
	}

	var last domain.Status
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		current, err := e.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		last = current.Status

		if !domain.CanTransition(current.Status, to) {
			return nil, e.reject(ctx, log, id, current.Status, to)
		}

		updated, err := e.store.CompareAndSetStatus(ctx, id, current.Status, to, e.fieldsFor(to, f))
		if err == nil {
			e.transitions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("from", string(current.Status)),
				attribute.String("to", string(to))))
			log.Debug("task status changed", slog.String("from", string(current.Status)))
			return updated, nil
		}
		if !errors.Is(err, store.ErrStatusMismatch) {
			return nil, err
		}

		log.Debug("lost status race, retrying",
			slog.String("from", string(current.Status)),
			slog.Int("attempt", attempt))
	}

	return nil, e.reject(ctx, log, id, last, to)
}

func (e *Engine) reject(ctx context.Context, log *slog.Logger, id uuid.UUID, from, to domain.Status) error {
	e.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(to))))
	log.Debug("transition rejected", slog.String("from", string(from)))
	return &domain.TransitionError{TaskID: id, From: from, To: to}
}

// MarkPending moves a NEW task to PENDING ahead of publication.
func (e *Engine) MarkPending(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return e.Transition(ctx, id, domain.StatusPending, Fields{})
}

// Claim moves a PENDING task to IN_PROGRESS and records started_at.
func (e *Engine) Claim(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return e.Transition(ctx, id, domain.StatusInProgress, Fields{})
}

// Complete moves an IN_PROGRESS task to COMPLETED with result.
func (e *Engine) Complete(ctx context.Context, id uuid.UUID, result string) (*domain.Task, error) {
	return e.Transition(ctx, id, domain.StatusCompleted, Fields{Result: &result})
}

// Fail moves an IN_PROGRESS task to FAILED with errMsg.
func (e *Engine) Fail(ctx context.Context, id uuid.UUID, errMsg string) (*domain.Task, error) {
	return e.Transition(ctx, id, domain.StatusFailed, Fields{Error: &errMsg})
}

// Cancel moves a NEW, PENDING or IN_PROGRESS task to CANCELLED. It returns
// an error matching domain.ErrNotCancellable when the task is already
// terminal, including when a concurrent request got there first.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := e.Transition(ctx, id, domain.StatusCancelled, Fields{})
	if err != nil {
		return nil, err
	}

	logger.FromContextOrDefault(ctx, e.logger).Info("task cancelled",
		slog.String("task_id", id.String()))
	return task, nil
}

func (e *Engine) fieldsFor(to domain.Status, f Fields) store.TransitionFields {
	now := e.now().UTC()
	var fields store.TransitionFields

	if to == domain.StatusInProgress {
		fields.StartedAt = &now
	}
	if to.IsTerminal() {
		fields.FinishedAt = &now
	}
	if to == domain.StatusCompleted {
		result := ""
		if f.Result != nil {
			result = *f.Result
		}
		fields.Result = &result
	}
	if to == domain.StatusFailed {
		msg := ""
		if f.Error != nil {
			msg = *f.Error
		}
		fields.Error = &msg
	}
	return fields
}

func checkFields(to domain.Status, f Fields) error {
	if !to.Valid() {
		return domain.NewValidationError("status", "is not recognised", domain.ErrInvalidStatus)
	}
	if f.Result != nil && to != domain.StatusCompleted {
		return domain.NewValidationError("result", "may only be set when completing", nil)
	}
	if f.Error != nil && to != domain.StatusFailed {
		return domain.NewValidationError("error", "may only be set when failing", nil)
	}
	return nil
}
