package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/lifecycle"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/phrazzld/tasker/internal/store"
)

// Submitter accepts new tasks for execution.
type Submitter interface {
	Submit(ctx context.Context, params lifecycle.NewTaskParams) (*domain.Task, error)
}

// TaskStatus is the short form returned by GetTaskStatus.
type TaskStatus struct {
	ID     uuid.UUID     `json:"id"`
	Status domain.Status `json:"status"`
}

// TaskService provides task-related operations
type TaskService interface {
	// CreateTask validates and submits a new task. The returned task is
	// PENDING even when publication to the broker failed.
	CreateTask(ctx context.Context, params lifecycle.NewTaskParams) (*domain.Task, error)

	// GetTask retrieves a task by its ID
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetTaskStatus retrieves only the status of a task
	GetTaskStatus(ctx context.Context, id uuid.UUID) (TaskStatus, error)

	// ListTasks returns one page of tasks ordered by creation time
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error)

	// CancelTask moves a non-terminal task to CANCELLED
	CancelTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	submitter Submitter
	engine    *lifecycle.Engine
	logger    *slog.Logger
}

// NewTaskService creates a new TaskService
// It returns an error if any of the required dependencies are nil.
func NewTaskService(submitter Submitter, engine *lifecycle.Engine, logger *slog.Logger) (TaskService, error) {
	if submitter == nil {
		return nil, domain.NewValidationError("submitter", "cannot be nil", domain.ErrValidation)
	}
	if engine == nil {
		return nil, domain.NewValidationError("engine", "cannot be nil", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &taskServiceImpl{
		submitter: submitter,
		engine:    engine,
		logger:    logger.With(slog.String("component", "task_service")),
	}, nil
}

// CreateTask implements TaskService.CreateTask
func (s *taskServiceImpl) CreateTask(ctx context.Context, params lifecycle.NewTaskParams) (*domain.Task, error) {
	task, err := s.submitter.Submit(ctx, params)
	if err != nil {
		return nil, wrap("create_task", "failed to submit task", err)
	}
	return task, nil
}

// GetTask implements TaskService.GetTask
func (s *taskServiceImpl) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.engine.Get(ctx, id)
	if err != nil {
		return nil, wrap("get_task", "failed to load task", err)
	}
	return task, nil
}

// GetTaskStatus implements TaskService.GetTaskStatus
func (s *taskServiceImpl) GetTaskStatus(ctx context.Context, id uuid.UUID) (TaskStatus, error) {
	task, err := s.engine.Get(ctx, id)
	if err != nil {
		return TaskStatus{}, wrap("get_task_status", "failed to load task", err)
	}
	return TaskStatus{ID: task.ID, Status: task.Status}, nil
}

// ListTasks implements TaskService.ListTasks
// A zero Limit selects store.DefaultListLimit.
func (s *taskServiceImpl) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	if filter.Limit == 0 {
		filter.Limit = store.DefaultListLimit
	}

	tasks, err := s.engine.List(ctx, filter)
	if err != nil {
		return nil, wrap("list_tasks", "failed to list tasks", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("listed tasks",
		slog.Int("count", len(tasks)),
		slog.Int("skip", filter.Skip),
		slog.Int("limit", filter.Limit))
	return tasks, nil
}

// CancelTask implements TaskService.CancelTask
func (s *taskServiceImpl) CancelTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.engine.Cancel(ctx, id)
	if err != nil {
		return nil, wrap("cancel_task", "failed to cancel task", err)
	}
	return task, nil
}

func validateFilter(f store.TaskFilter) error {
	if f.Skip < 0 {
		return domain.NewValidationError("skip", "must be greater than or equal to 0", nil)
	}
	if f.Limit < 0 || f.Limit > store.MaxListLimit {
		return domain.NewValidationError("limit",
			fmt.Sprintf("must be between 1 and %d", store.MaxListLimit), nil)
	}
	if f.Status != nil && !f.Status.Valid() {
		return domain.NewValidationError("status", "is not recognised", domain.ErrInvalidStatus)
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return domain.NewValidationError("priority", "must be one of LOW, MEDIUM, HIGH", domain.ErrInvalidPriority)
	}
	return nil
}
