package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hearthd/hearth-core/internal/area"
	"github.com/hearthd/hearth-core/internal/auth"
	"github.com/hearthd/hearth-core/internal/configentry"
	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps known registry errors onto HTTP statuses.
// Unrecognised errors become 500s with a generic message so internals
// never leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrEntityNotFound),
		errors.Is(err, configentry.ErrEntryNotFound),
		errors.Is(err, area.ErrAreaNotFound),
		errors.Is(err, auth.ErrTokenNotFound),
		errors.Is(err, service.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, entity.ErrEntityExists),
		errors.Is(err, configentry.ErrEntryExists),
		errors.Is(err, area.ErrAreaExists),
		errors.Is(err, area.ErrAreaInUse):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, service.ErrInvalidCall),
		errors.Is(err, entity.ErrInvalidEntity),
		errors.Is(err, entity.ErrInvalidID),
		errors.Is(err, area.ErrInvalidName),
		errors.Is(err, configentry.ErrNoHandler),
		errors.Is(err, configentry.ErrNotLoaded):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
