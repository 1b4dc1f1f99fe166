package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/tasker/internal/api/shared"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/phrazzld/tasker/internal/redact"
)

// healthCheckTimeout bounds the database probe.
const healthCheckTimeout = 2 * time.Second

// Pinger is satisfied by the task store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker is satisfied by the message transport.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthHandler reports dependency connectivity.
type HealthHandler struct {
	db     Pinger
	broker ConnectionChecker
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Either dependency may be nil,
// in which case it is reported as down.
func NewHealthHandler(db Pinger, broker ConnectionChecker, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		db:     db,
		broker: broker,
		logger: logger.With(slog.String("component", "health_handler")),
	}
}

// Health handles GET /health. It always responds 200; monitors should read
// the status field.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	dbOK := false
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			log.Warn("database health check failed", slog.String("error", redact.Error(err)))
		} else {
			dbOK = true
		}
	}

	brokerOK := h.broker != nil && h.broker.IsConnected()
	if !brokerOK {
		log.Warn("broker health check failed")
	}

	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Database: dbOK,
		RabbitMQ: brokerOK,
		Status:   dbOK && brokerOK,
	})
}
