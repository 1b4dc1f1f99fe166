package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRecorder[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type connected bool

func (c connected) IsConnected() bool { return bool(c) }

func TestHealth(t *testing.T) {
	up := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name     string
		db       Pinger
		broker   ConnectionChecker
		expected HealthResponse
	}{
		{"all up", up, connected(true), HealthResponse{Database: true, RabbitMQ: true, Status: true}},
		{"database down", down, connected(true), HealthResponse{Database: false, RabbitMQ: true, Status: false}},
		{"broker down", up, connected(false), HealthResponse{Database: true, RabbitMQ: false, Status: false}},
		{"nothing configured", nil, nil, HealthResponse{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.db, tt.broker, nil)
			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			got := decodeRecorder[HealthResponse](t, w)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestHealth_ThroughRouter(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, HealthResponse{Database: true, RabbitMQ: true, Status: true}, decode[HealthResponse](t, resp))

	ts.transport.Close()
	resp = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, HealthResponse{Database: true, RabbitMQ: false, Status: false}, decode[HealthResponse](t, resp))
}
