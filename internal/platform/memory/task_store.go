// Package memory provides an in-process implementation of store.TaskStore.
// It backs the single-process mode and the tests of the packages above it.
package memory

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/store"
)

// TaskStore is a mutex-guarded map of tasks. Returned tasks are copies.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.Task

	// OnGet, when set, runs before every GetByID and may fail it.
	OnGet func(id uuid.UUID) error

	// OnCompareAndSet, when set, runs before every CompareAndSetStatus
	// and may fail it. It is called without the lock held.
	OnCompareAndSet func(id uuid.UUID, from, to domain.Status) error
}

// NewTaskStore creates an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

var _ store.TaskStore = (*TaskStore)(nil)

// Create implements store.TaskStore.Create
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if s.OnGet != nil {
		if err := s.OnGet(id); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// List implements store.TaskStore.List
func (s *TaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	filter = filter.Normalize()

	matched := s.sorted(filter.Matches)
	if filter.Skip >= len(matched) {
		return []*domain.Task{}, nil
	}
	end := min(filter.Skip+filter.Limit, len(matched))
	return matched[filter.Skip:end], nil
}

// ListByStatusBefore implements store.TaskStore.ListByStatusBefore
func (s *TaskStore) ListByStatusBefore(
	ctx context.Context,
	status domain.Status,
	cutoff time.Time,
	limit int,
) ([]*domain.Task, error) {
	matched := s.sorted(func(t *domain.Task) bool {
		return t.Status == status && t.CreatedAt.Before(cutoff)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// CompareAndSetStatus implements store.TaskStore.CompareAndSetStatus
func (s *TaskStore) CompareAndSetStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.Status,
	fields store.TransitionFields,
) (*domain.Task, error) {
	if s.OnCompareAndSet != nil {
		if err := s.OnCompareAndSet(id, from, to); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if task.Status != from {
		return nil, store.ErrStatusMismatch
	}

	task.Status = to
	if task.StartedAt == nil && fields.StartedAt != nil {
		v := fields.StartedAt.UTC()
		task.StartedAt = &v
	}
	if task.FinishedAt == nil && fields.FinishedAt != nil {
		v := fields.FinishedAt.UTC()
		task.FinishedAt = &v
	}
	if fields.Result != nil {
		v := *fields.Result
		task.Result = &v
	}
	if fields.Error != nil {
		v := *fields.Error
		task.Error = &v
	}
	return task.Clone(), nil
}

// Ping implements store.TaskStore.Ping
func (s *TaskStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *TaskStore) sorted(keep func(*domain.Task) bool) []*domain.Task {
	s.mu.RLock()
	out := make([]*domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out
}
