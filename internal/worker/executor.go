package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/config"
	"github.com/phrazzld/tasker/internal/domain"
)

// Executor runs the body of a claimed task and returns its result text.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task *domain.Task) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task *domain.Task) (string, error) {
	return f(ctx, task)
}

// ExecutionError is a task body failure. Panics are converted into one.
type ExecutionError struct {
	TaskID uuid.UUID
	Err    error
	Panic  any
}

func (e *ExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("task %s panicked: %v", e.TaskID, e.Panic)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// SimulatedExecutor stands in for real work by sleeping for a
// priority-dependent delay.
type SimulatedExecutor struct {
	delays map[domain.Priority]time.Duration
}

// NewSimulatedExecutor reads the per-priority delays from cfg.
func NewSimulatedExecutor(cfg config.WorkerConfig) *SimulatedExecutor {
	return &SimulatedExecutor{
		delays: map[domain.Priority]time.Duration{
			domain.PriorityHigh:   cfg.HighDelay,
			domain.PriorityMedium: cfg.MediumDelay,
			domain.PriorityLow:    cfg.LowDelay,
		},
	}
}

// Delay returns the simulated duration for priority p.
func (e *SimulatedExecutor) Delay(p domain.Priority) time.Duration {
	return e.delays[p]
}

// Execute waits for the task's delay and reports success.
func (e *SimulatedExecutor) Execute(ctx context.Context, task *domain.Task) (string, error) {
	if d := e.delays[task.Priority]; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fmt.Sprintf("Task '%s' completed successfully. Priority: %s", task.Title, task.Priority), nil
}

// safeExecute runs exec and turns errors and panics into *ExecutionError.
func safeExecute(ctx context.Context, exec Executor, task *domain.Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{TaskID: task.ID, Panic: r}
		}
	}()

	result, err = exec.Execute(ctx, task)
	if err != nil {
		return "", &ExecutionError{TaskID: task.ID, Err: err}
	}
	return result, nil
}
