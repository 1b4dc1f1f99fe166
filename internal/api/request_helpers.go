package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/store"
)

// getPathUUID parses the named chi URL parameter as a task ID.
func getPathUUID(r *http.Request, param string) (uuid.UUID, error) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		return uuid.Nil, domain.NewValidationError(param, "is required", domain.ErrValidation)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewValidationError(param, "has invalid format", domain.ErrInvalidID)
	}
	return id, nil
}

// parseListFilter reads the status, priority, skip and limit query
// parameters. Absent parameters keep their zero value.
func parseListFilter(r *http.Request) (store.TaskFilter, error) {
	q := r.URL.Query()
	var filter store.TaskFilter

	if v := q.Get("status"); v != "" {
		s, err := domain.ParseStatus(v)
		if err != nil {
			return filter, domain.NewValidationError("status", "is not a known task status", domain.ErrInvalidStatus)
		}
		filter.Status = &s
	}

	if v := q.Get("priority"); v != "" {
		p, err := domain.ParsePriority(v)
		if err != nil {
			return filter, domain.NewValidationError("priority", "must be one of LOW, MEDIUM, HIGH", domain.ErrInvalidPriority)
		}
		filter.Priority = &p
	}

	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, domain.NewValidationError("skip", "must be a non-negative integer", nil)
		}
		filter.Skip = n
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > store.MaxListLimit {
			return filter, domain.NewValidationError("limit",
				"must be an integer between 1 and "+strconv.Itoa(store.MaxListLimit), nil)
		}
		filter.Limit = n
	}

	return filter, nil
}
