package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/area"
)

// areaRequest is the POST/PATCH body for areas.
type areaRequest struct {
	Name  string  `json:"name"`
	Floor *string `json:"floor,omitempty"`
}

// handleListAreas returns all areas.
func (s *Server) handleListAreas(w http.ResponseWriter, r *http.Request) {
	if s.areas == nil {
		writeJSON(w, http.StatusOK, []area.Area{})
		return
	}
	areas, err := s.areas.List(r.Context())
	if err != nil {
		s.logger.Error("listing areas", "error", err)
		writeDomainError(w, err)
		return
	}
	if areas == nil {
		areas = []area.Area{}
	}
	writeJSON(w, http.StatusOK, areas)
}

// handleCreateArea registers a new area.
func (s *Server) handleCreateArea(w http.ResponseWriter, r *http.Request) {
	if s.areas == nil {
		writeNotFound(w, "areas are disabled")
		return
	}
	var req areaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	created, err := s.areas.Create(r.Context(), req.Name, req.Floor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateArea renames an area or moves it to a different floor.
func (s *Server) handleUpdateArea(w http.ResponseWriter, r *http.Request) {
	if s.areas == nil {
		writeNotFound(w, "areas are disabled")
		return
	}
	var req areaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	updated, err := s.areas.Update(r.Context(), chi.URLParam(r, "id"), req.Name, req.Floor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteArea removes an unreferenced area.
func (s *Server) handleDeleteArea(w http.ResponseWriter, r *http.Request) {
	if s.areas == nil {
		writeNotFound(w, "areas are disabled")
		return
	}
	if err := s.areas.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
}
