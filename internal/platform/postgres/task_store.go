package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/phrazzld/tasker/internal/redact"
	"github.com/phrazzld/tasker/internal/store"
)

const taskColumns = `id, title, description, priority, status, created_at, started_at, finished_at, result, error`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db *sql.DB, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", redact.Error(err)),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.Title,
		task.Description,
		string(task.Priority),
		string(task.Status),
		task.CreatedAt,
		task.StartedAt,
		task.FinishedAt,
		task.Result,
		task.Error,
	)
	if err != nil {
		level := slog.LevelError
		if IsUniqueViolation(err) {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "failed to create task",
			slog.String("error", redact.Error(err)),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("priority", string(task.Priority)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return getTask(ctx, s.db, id)
}

// List implements store.TaskStore.List
func (s *PostgresTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	filter = filter.Normalize()

	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, string(*filter.Priority))
		where = append(where, fmt.Sprintf("priority = $%d", len(args)))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Skip)
	query += fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	tasks, err := queryTasks(ctx, s.db, query, args...)
	if err != nil {
		log.Error("failed to list tasks", slog.String("error", redact.Error(err)))
		return nil, store.NewStoreError("task", "list", "query failed", err)
	}
	return tasks, nil
}

// ListByStatusBefore implements store.TaskStore.ListByStatusBefore
func (s *PostgresTaskStore) ListByStatusBefore(
	ctx context.Context,
	status domain.Status,
	cutoff time.Time,
	limit int,
) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3`

	// LIMIT NULL is LIMIT ALL.
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	tasks, err := queryTasks(ctx, s.db, query, string(status), cutoff.UTC(), limitArg)
	if err != nil {
		return nil, store.NewStoreError("task", "list_by_status", "query failed", err)
	}
	return tasks, nil
}

// CompareAndSetStatus implements store.TaskStore.CompareAndSetStatus.
// The update and the follow-up existence check run in one transaction so
// a missing task and a status mismatch are reported distinctly.
func (s *PostgresTaskStore) CompareAndSetStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.Status,
	fields store.TransitionFields,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var updated *domain.Task
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		updated, err = compareAndSet(ctx, tx, id, from, to, fields)
		return err
	})
	if err != nil {
		if !errors.Is(err, store.ErrStatusMismatch) && !errors.Is(err, store.ErrNotFound) {
			log.Error("failed to update task status",
				slog.String("error", redact.Error(err)),
				slog.String("task_id", id.String()),
				slog.String("from", string(from)),
				slog.String("to", string(to)))
		}
		return nil, err
	}

	log.Debug("task status updated",
		slog.String("task_id", id.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return updated, nil
}

// Ping implements store.TaskStore.Ping
func (s *PostgresTaskStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

func compareAndSet(
	ctx context.Context,
	db store.DBTX,
	id uuid.UUID,
	from, to domain.Status,
	fields store.TransitionFields,
) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = $3,
			started_at = COALESCE(started_at, $4),
			finished_at = COALESCE(finished_at, $5),
			result = COALESCE($6, result),
			error = COALESCE($7, error)
		WHERE id = $1 AND status = $2
		RETURNING ` + taskColumns

	task, err := scanTask(db.QueryRowContext(
		ctx,
		query,
		id,
		string(from),
		string(to),
		fields.StartedAt,
		fields.FinishedAt,
		fields.Result,
		fields.Error,
	))
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, MapError(err)
	}

	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, MapError(err)
	}
	if !exists {
		return nil, store.ErrTaskNotFound
	}
	return nil, store.ErrStatusMismatch
}

func getTask(ctx context.Context, db store.DBTX, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}
	return task, nil
}

func queryTasks(ctx context.Context, db store.DBTX, query string, args ...any) ([]*domain.Task, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task                  domain.Task
		priority, status      string
		startedAt, finishedAt sql.NullTime
		result, errMsg        sql.NullString
	)

	if err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&priority,
		&status,
		&task.CreatedAt,
		&startedAt,
		&finishedAt,
		&result,
		&errMsg,
	); err != nil {
		return nil, err
	}

	task.Priority = domain.Priority(priority)
	task.Status = domain.Status(status)
	task.CreatedAt = task.CreatedAt.UTC()
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		task.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		task.FinishedAt = &t
	}
	if result.Valid {
		task.Result = &result.String
	}
	if errMsg.Valid {
		task.Error = &errMsg.String
	}
	return &task, nil
}
