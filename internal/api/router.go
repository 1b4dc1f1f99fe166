package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apiMiddleware "github.com/phrazzld/tasker/internal/api/middleware"
	"github.com/phrazzld/tasker/internal/api/shared"
)

// APIPrefix is the versioned alias under which every route is also mounted.
const APIPrefix = "/api/v1"

// NewRouter creates the application router with all routes and middleware.
// Routes are served both at the root and under APIPrefix.
func NewRouter(tasks *TaskHandler, health *HealthHandler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	routes := func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", tasks.CreateTask)
			r.Get("/", tasks.ListTasks)
			r.Get("/{id}", tasks.GetTask)
			r.Get("/{id}/status", tasks.GetTaskStatus)
			r.Delete("/{id}", tasks.CancelTask)
		})
		r.Get("/health", health.Health)
	}

	routes(r)
	r.Route(APIPrefix, routes)

	return otelhttp.NewHandler(r, "tasker",
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.Method
		}))
}
