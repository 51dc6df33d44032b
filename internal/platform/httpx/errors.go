// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// Status returns the HTTP status for a domain error.
func Status(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrDuplicate), errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInsufficientStock), errors.Is(err, shared.ErrInvalidBillState):
		return http.StatusConflict
	case errors.Is(err, shared.ErrAllocationConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrExternalSubmission):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Internal
// failures hide their detail.
func RespondError(w http.ResponseWriter, err error) {
	status := Status(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	problem := ProblemDetail{Type: problemType(err), Title: http.StatusText(status), Status: status, Detail: detail}
	if errors.Is(err, shared.ErrAllocationConflict) {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, problem)
}

func problemType(err error) string {
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient-stock"
	case errors.Is(err, shared.ErrInvalidBillState):
		return "invalid-bill-state"
	case errors.Is(err, shared.ErrAllocationConflict):
		return "allocation-conflict"
	case errors.Is(err, shared.ErrExternalSubmission):
		return "external-submission-failure"
	case errors.Is(err, shared.ErrPersistence):
		return "persistence-failure"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrNotFound):
		return "not-found"
	}
	return ""
}
