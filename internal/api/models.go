package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/domain"
)

// CreateTaskRequest defines the payload for POST /tasks.
type CreateTaskRequest struct {
	Title string `json:"title"       validate:"required,max=255"`
	// Description may be empty but must be present.
	Description *string `json:"description" validate:"required"`
	Priority    string  `json:"priority"    validate:"required,oneof=LOW MEDIUM HIGH"`
}

// TaskResponse is the full task record returned by the API.
type TaskResponse struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Result      *string    `json:"result"`
	Error       *string    `json:"error"`
}

// TaskStatusResponse is returned by GET /tasks/{id}/status.
type TaskStatusResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// HealthResponse reports the connectivity of the service's dependencies.
// The rabbitmq key reports the message broker.
type HealthResponse struct {
	Database bool `json:"database"`
	RabbitMQ bool `json:"rabbitmq"`
	Status   bool `json:"status"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		FinishedAt:  t.FinishedAt,
		Result:      t.Result,
		Error:       t.Error,
	}
}

func tasksToResponse(tasks []*domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	return out
}
