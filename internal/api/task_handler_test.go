package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/api/shared"
	"github.com/phrazzld/tasker/internal/config"
	"github.com/phrazzld/tasker/internal/dispatch"
	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/lifecycle"
	"github.com/phrazzld/tasker/internal/platform/memory"
	"github.com/phrazzld/tasker/internal/queue"
	"github.com/phrazzld/tasker/internal/service"
	"github.com/phrazzld/tasker/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store     *memory.TaskStore
	engine    *lifecycle.Engine
	transport *queue.ChannelTransport
	logger    *slog.Logger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.NewTaskStore()
	engine, err := lifecycle.NewEngine(s, log)
	require.NoError(t, err)
	transport := queue.NewChannelTransport(100, log)
	d, err := dispatch.NewDispatcher(engine, transport, log)
	require.NoError(t, err)
	svc, err := service.NewTaskService(d, engine, log)
	require.NoError(t, err)

	router := NewRouter(NewTaskHandler(svc, log), NewHealthHandler(s, transport, log), log)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, store: s, engine: engine, transport: transport, logger: log}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) create(t *testing.T, title string, priority domain.Priority) TaskResponse {
	t.Helper()

	resp := ts.do(t, http.MethodPost, "/tasks", map[string]string{
		"title":       title,
		"description": "d",
		"priority":    string(priority),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[TaskResponse](t, resp)
}

func TestCreateTask(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/tasks", map[string]string{
		"title":       "Process report",
		"description": "Quarterly numbers",
		"priority":    "HIGH",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Len(t, resp.Header.Get(shared.TraceIDHeader), 32)

	task := decode[TaskResponse](t, resp)
	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, "Process report", task.Title)
	assert.Equal(t, "Quarterly numbers", task.Description)
	assert.Equal(t, "HIGH", task.Priority)
	assert.Equal(t, "PENDING", task.Status)
	assert.Nil(t, task.StartedAt)
	assert.Nil(t, task.Result)
	assert.Equal(t, 1, ts.transport.Len(domain.PriorityHigh))
}

func TestCreateTask_EmptyDescriptionAllowed(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/tasks", `{"title":"t","description":"","priority":"LOW"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateTask_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"malformed json", `{"title": "t",`, "Invalid request format"},
		{"missing title", `{"description":"d","priority":"LOW"}`, "Invalid title: required field"},
		{"missing description", `{"title":"t","priority":"LOW"}`, "Invalid description: required field"},
		{"missing priority", `{"title":"t","description":"d"}`, "Invalid priority: required field"},
		{"unknown priority", `{"title":"t","description":"d","priority":"URGENT"}`, "Invalid priority: invalid value"},
		{"lowercase priority", `{"title":"t","description":"d","priority":"high"}`, "Invalid priority: invalid value"},
		{"title too long", `{"title":"` + string(bytes.Repeat([]byte("x"), 256)) + `","description":"d","priority":"LOW"}`,
			"Invalid title: too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/tasks", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			body := decode[shared.ErrorResponse](t, resp)
			assert.Equal(t, tt.detail, body.Detail)
		})
	}

	for _, p := range domain.Priorities {
		assert.Zero(t, ts.transport.Len(p))
	}
}

func TestGetTask(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "t", domain.PriorityMedium)

	resp := ts.do(t, http.MethodGet, "/tasks/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[TaskResponse](t, resp)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "PENDING", got.Status)

	resp = ts.do(t, http.MethodGet, "/tasks/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Task not found", decode[shared.ErrorResponse](t, resp).Detail)

	resp = ts.do(t, http.MethodGet, "/tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetTask_NullFieldsSerialised(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "t", domain.PriorityLow)

	resp := ts.do(t, http.MethodGet, "/tasks/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw := decode[map[string]any](t, resp)

	for _, key := range []string{"started_at", "finished_at", "result", "error"} {
		v, ok := raw[key]
		assert.True(t, ok, "missing key %s", key)
		assert.Nil(t, v)
	}
}

func TestGetTaskStatus(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "t", domain.PriorityLow)

	resp := ts.do(t, http.MethodGet, "/tasks/"+created.ID.String()+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, TaskStatusResponse{ID: created.ID, Status: "PENDING"}, decode[TaskStatusResponse](t, resp))

	resp = ts.do(t, http.MethodGet, "/tasks/"+uuid.NewString()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/tasks/123/status", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestListTasks(t *testing.T) {
	ts := newTestServer(t)

	var ids []uuid.UUID
	for i := 0; i < 12; i++ {
		p := domain.PriorityLow
		if i%3 == 0 {
			p = domain.PriorityHigh
		}
		ids = append(ids, ts.create(t, "task", p).ID)
	}

	resp := ts.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]TaskResponse](t, resp), 10, "default limit")

	resp = ts.do(t, http.MethodGet, "/tasks?priority=HIGH", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	highs := decode[[]TaskResponse](t, resp)
	assert.Len(t, highs, 4)
	for _, task := range highs {
		assert.Equal(t, "HIGH", task.Priority)
	}

	// Consecutive pages do not overlap and together cover every task.
	seen := map[uuid.UUID]bool{}
	for skip := 0; skip < 12; skip += 5 {
		resp = ts.do(t, http.MethodGet, "/tasks?limit=5&skip="+strconv.Itoa(skip), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		for _, task := range decode[[]TaskResponse](t, resp) {
			assert.False(t, seen[task.ID], "task %s returned twice", task.ID)
			seen[task.ID] = true
		}
	}
	assert.Len(t, seen, len(ids))

	resp = ts.do(t, http.MethodGet, "/tasks?skip=100", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]TaskResponse](t, resp))
}

func TestListTasks_StatusFilter(t *testing.T) {
	ts := newTestServer(t)
	a := ts.create(t, "a", domain.PriorityLow)
	ts.create(t, "b", domain.PriorityLow)

	resp := ts.do(t, http.MethodDelete, "/tasks/"+a.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/tasks?status=CANCELLED", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[[]TaskResponse](t, resp)
	require.Len(t, cancelled, 1)
	assert.Equal(t, a.ID, cancelled[0].ID)
}

func TestListTasks_InvalidQuery(t *testing.T) {
	ts := newTestServer(t)

	for _, query := range []string{"limit=0", "limit=101", "skip=-1", "status=DONE", "priority=urgent!"} {
		t.Run(query, func(t *testing.T) {
			resp := ts.do(t, http.MethodGet, "/tasks?"+query, nil)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		})
	}
}

func TestCancelTask(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "t", domain.PriorityMedium)

	resp := ts.do(t, http.MethodDelete, "/tasks/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[TaskResponse](t, resp)
	assert.Equal(t, "CANCELLED", cancelled.Status)
	assert.NotNil(t, cancelled.FinishedAt)
	assert.Nil(t, cancelled.Result)
	assert.Nil(t, cancelled.Error)

	resp = ts.do(t, http.MethodDelete, "/tasks/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Task cannot be cancelled from its current status",
		decode[shared.ErrorResponse](t, resp).Detail)

	resp = ts.do(t, http.MethodDelete, "/tasks/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/tasks/nope", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCancelTask_ConcurrentRequests(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "t", domain.PriorityLow)

	const callers = 8
	codes := make(chan int, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/tasks/"+created.ID.String(), nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				codes <- 0
				return
			}
			_ = resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	assert.Equal(t, 1, counts[http.StatusOK])
	assert.Equal(t, callers-1, counts[http.StatusBadRequest])
}

func TestVersionedPrefix(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, APIPrefix+"/tasks", map[string]string{
		"title": "t", "description": "d", "priority": "LOW",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[TaskResponse](t, resp)

	resp = ts.do(t, http.MethodGet, "/tasks/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, APIPrefix+"/tasks/"+created.ID.String()+"/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, APIPrefix+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownRoutesReturnJSON(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not found", decode[shared.ErrorResponse](t, resp).Detail)

	resp = ts.do(t, http.MethodPut, "/tasks/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "Method not allowed", decode[shared.ErrorResponse](t, resp).Detail)
}

func TestServiceFailureIsSanitised(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "t", domain.PriorityLow)

	ts.store.OnGet = func(uuid.UUID) error {
		return errors.New("dial tcp 10.1.2.3:5432: connection refused for postgres://admin:s3cret@db")
	}

	resp := ts.do(t, http.MethodGet, "/tasks/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[shared.ErrorResponse](t, resp)
	assert.Equal(t, "Failed to get task", body.Detail)
}

func TestEndToEnd_TaskCompletes(t *testing.T) {
	ts := newTestServer(t)

	pool, err := worker.NewPool(ts.engine, ts.transport, worker.NewSimulatedExecutor(config.WorkerConfig{
		HighDelay:   5 * time.Millisecond,
		MediumDelay: 10 * time.Millisecond,
		LowDelay:    20 * time.Millisecond,
	}), config.WorkerConfig{ConsumersPerPriority: 1}, ts.logger)
	require.NoError(t, err)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	resp := ts.do(t, http.MethodPost, "/tasks", `{"title":"t","description":"d","priority":"HIGH"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[TaskResponse](t, resp)
	assert.Equal(t, "PENDING", created.Status)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/tasks/" + created.ID.String() + "/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var status TaskStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return status.Status == "COMPLETED"
	}, 5*time.Second, 10*time.Millisecond)

	resp = ts.do(t, http.MethodGet, "/tasks/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decode[TaskResponse](t, resp)
	require.NotNil(t, done.Result)
	assert.Equal(t, "Task 't' completed successfully. Priority: HIGH", *done.Result)
	assert.Nil(t, done.Error)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)
	assert.False(t, done.FinishedAt.Before(*done.StartedAt))

	resp = ts.do(t, http.MethodDelete, "/tasks/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
