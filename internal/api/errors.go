package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/tasker/internal/api/shared"
	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/store"
)

const (
	msgInternal   = "An unexpected error occurred"
	msgValidation = "Validation error"
)

// MapErrorToStatusCode picks the response status for err. Cancelling a
// terminal task is a 400; every other lost transition is a 409.
func MapErrorToStatusCode(err error) int {
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotCancellable):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity),
		errors.As(err, &fieldErrs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// GetSafeErrorMessage returns the "detail" text for err. Only messages
// authored in this repository are passed through; driver and transport
// errors collapse to a generic string.
func GetSafeErrorMessage(err error) string {
	var (
		domainErr *domain.ValidationError
		fieldErrs validator.ValidationErrors
	)
	switch {
	case err == nil:
		return msgInternal
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, domain.ErrNotCancellable):
		return "Task cannot be cancelled from its current status"
	case errors.As(err, &domainErr):
		return domainErr.Error()
	case errors.As(err, &fieldErrs):
		return SanitizeValidationError(fieldErrs)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, store.ErrInvalidEntity):
		return msgValidation
	case errors.Is(err, domain.ErrConflict):
		return "Task status changed concurrently"
	}
	return msgInternal
}

// tagMessages phrases validator tags for clients.
var tagMessages = map[string]string{
	"required": "required field",
	"min":      "too short",
	"max":      "too long",
	"oneof":    "invalid value",
}

// SanitizeValidationError reports the first failing request field as
// "Invalid <json field>: <reason>".
func SanitizeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return msgValidation
	}

	fe := fieldErrs[0]
	reason, ok := tagMessages[fe.Tag()]
	if !ok {
		reason = "validation failed"
	}
	return "Invalid " + strings.ToLower(fe.Field()) + ": " + reason
}

// HandleAPIError writes the mapped status and safe message for err and
// logs the redacted cause. fallback, when set, replaces the generic text
// on 500s.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
