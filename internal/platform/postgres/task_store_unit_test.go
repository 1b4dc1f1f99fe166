package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{
	"id", "title", "description", "priority", "status",
	"created_at", "started_at", "finished_at", "result", "error",
}

func newMockStore(t *testing.T) (*PostgresTaskStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPostgresTaskStore(db, logger), mock
}

func TestNewPostgresTaskStore_NilDB(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewPostgresTaskStore(nil, nil) })
}

func TestCreate_InsertsTask(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	task, err := domain.NewTask("title", "description", domain.PriorityHigh, time.Now())
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO tasks`).
		WithArgs(task.ID, "title", "description", "HIGH", "NEW", task.CreatedAt,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), task))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_RejectsInvalidTask(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	task := &domain.Task{ID: uuid.New(), Priority: domain.PriorityHigh, Status: domain.StatusNew}

	err := s.Create(context.Background(), task)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM tasks WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := s.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_ScansNullableColumns(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	finished := created.Add(time.Minute)

	mock.ExpectQuery(`SELECT .* FROM tasks WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			id.String(), "t", "d", "LOW", "FAILED", created, created, finished, nil, "boom",
		))

	task, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, domain.PriorityLow, task.Priority)
	assert.Equal(t, domain.StatusFailed, task.Status)
	require.NotNil(t, task.FinishedAt)
	assert.Equal(t, finished, *task.FinishedAt)
	assert.Nil(t, task.Result)
	require.NotNil(t, task.Error)
	assert.Equal(t, "boom", *task.Error)
}

func TestList_BuildsFilteredQuery(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	status := domain.StatusPending
	priority := domain.PriorityHigh

	mock.ExpectQuery(`FROM tasks WHERE status = \$1 AND priority = \$2 ORDER BY created_at ASC, id ASC LIMIT \$3 OFFSET \$4`).
		WithArgs("PENDING", "HIGH", 5, 10).
		WillReturnRows(sqlmock.NewRows(columns))

	tasks, err := s.List(context.Background(), store.TaskFilter{
		Status: &status, Priority: &priority, Skip: 10, Limit: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.NotNil(t, tasks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_DefaultsPagination(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM tasks ORDER BY created_at ASC, id ASC LIMIT \$1 OFFSET \$2`).
		WithArgs(store.DefaultListLimit, 0).
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := s.List(context.Background(), store.TaskFilter{Skip: -1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStatus_Applies(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE tasks`).
		WithArgs(id, "PENDING", "IN_PROGRESS", now, nil, nil, nil).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			id.String(), "t", "d", "HIGH", "IN_PROGRESS", now, now, nil, nil, nil,
		))
	mock.ExpectCommit()

	task, err := s.CompareAndSetStatus(context.Background(), id,
		domain.StatusPending, domain.StatusInProgress, store.TransitionFields{StartedAt: &now})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, task.Status)
	require.NotNil(t, task.StartedAt)
	assert.Equal(t, now, *task.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStatus_Mismatch(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE tasks`).WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.CompareAndSetStatus(context.Background(), id,
		domain.StatusPending, domain.StatusCancelled, store.TransitionFields{})
	assert.ErrorIs(t, err, store.ErrStatusMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStatus_NotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE tasks`).WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := s.CompareAndSetStatus(context.Background(), id,
		domain.StatusPending, domain.StatusCancelled, store.TransitionFields{})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByStatusBefore(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	cutoff := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	id := uuid.New()

	mock.ExpectQuery(`WHERE status = \$1 AND created_at < \$2`).
		WithArgs("PENDING", cutoff, 50).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			id.String(), "t", "d", "MEDIUM", "PENDING", cutoff.Add(-time.Hour), nil, nil, nil, nil,
		))

	tasks, err := s.ListByStatusBefore(context.Background(), domain.StatusPending, cutoff, 50)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
	assert.Nil(t, tasks[0].StartedAt)
}

func TestListByStatusBefore_NoLimit(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	cutoff := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`LIMIT \$3`).
		WithArgs("PENDING", cutoff, nil).
		WillReturnRows(sqlmock.NewRows(columns))

	tasks, err := s.ListByStatusBefore(context.Background(), domain.StatusPending, cutoff, 0)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSlogGooseLogger(t *testing.T) {
	t.Parallel()

	l := &slogGooseLogger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	assert.NotPanics(t, func() {
		l.Printf("applied %d migrations\n", 1)
		l.Fatalf("failed: %s", "boom")
	})
}
