package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/domain"
)

// List limits applied when a filter leaves them unset or out of range.
const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// TaskFilter narrows a List call. Nil fields match everything.
type TaskFilter struct {
	Status   *domain.Status
	Priority *domain.Priority
	Skip     int
	Limit    int
}

// Normalize clamps Skip and Limit into their allowed ranges.
func (f TaskFilter) Normalize() TaskFilter {
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return f
}

// Matches reports whether t satisfies the equality filters of f.
func (f TaskFilter) Matches(t *domain.Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	return true
}

// TransitionFields carries the side-effect columns written together with a
// status change. Nil fields leave the stored value untouched, and
// StartedAt and FinishedAt are never overwritten once set.
type TransitionFields struct {
	StartedAt  *time.Time
	FinishedAt *time.Time
	Result     *string
	Error      *string
}

// TaskStore defines the persistence operations for tasks.
// Implementations must be safe for concurrent use.
type TaskStore interface {
	// Create inserts a new task.
	// Returns ErrDuplicate if a task with the same ID exists.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID returns the task with the given ID.
	// Returns ErrTaskNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List returns tasks matching filter ordered by creation time, then ID.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// CompareAndSetStatus atomically moves the task from status from to
	// status to, writing fields in the same step. It returns the updated
	// task, ErrTaskNotFound if the task does not exist, or
	// ErrStatusMismatch if the stored status is not from.
	CompareAndSetStatus(
		ctx context.Context,
		id uuid.UUID,
		from, to domain.Status,
		fields TransitionFields,
	) (*domain.Task, error)

	// ListByStatusBefore returns up to limit tasks in status whose
	// creation time is before cutoff, oldest first. A limit of zero or
	// less returns every match.
	ListByStatusBefore(
		ctx context.Context,
		status domain.Status,
		cutoff time.Time,
		limit int,
	) ([]*domain.Task, error)

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
}
