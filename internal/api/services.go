package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/service"
)

// handleListServices returns all registered service definitions.
func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.services.List())
}

// callServiceRequest is the POST body for a service call.
type callServiceRequest struct {
	EntityIDs []string       `json:"entity_ids,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// handleCallService validates and dispatches one service call.
// An empty body is allowed for services that take no payload.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	var req callServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	call := service.Call{
		Domain:    chi.URLParam(r, "domain"),
		Service:   chi.URLParam(r, "service"),
		Data:      req.Data,
		EntityIDs: req.EntityIDs,
	}

	if err := s.services.Call(r.Context(), call); err != nil {
		s.logger.Warn("service call failed",
			"service", call.Domain+"."+call.Service, "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
}
