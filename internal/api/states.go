package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/entity"
)

// stateResponse is the wire shape of one entity with its state.
type stateResponse struct {
	EntityID   string            `json:"entity_id"`
	Name       string            `json:"name"`
	Domain     string            `json:"domain"`
	Platform   string            `json:"platform"`
	AreaID     *string           `json:"area_id,omitempty"`
	State      string            `json:"state"`
	Attributes entity.Attributes `json:"attributes,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ChangedAt  time.Time         `json:"changed_at"`
}

func toStateResponse(e *entity.Entity) stateResponse {
	return stateResponse{
		EntityID:   e.ID,
		Name:       e.Name,
		Domain:     string(e.Domain),
		Platform:   e.Platform,
		AreaID:     e.AreaID,
		State:      e.State.Value,
		Attributes: e.State.Attributes,
		UpdatedAt:  e.State.UpdatedAt,
		ChangedAt:  e.State.ChangedAt,
	}
}

// handleListStates returns all entities with their current state.
// Optional ?domain= and ?area= query parameters narrow the result.
func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	var (
		entities []entity.Entity
		err      error
	)
	switch {
	case r.URL.Query().Get("domain") != "":
		entities, err = s.entities.ListByDomain(r.Context(), entity.Domain(r.URL.Query().Get("domain")))
	case r.URL.Query().Get("area") != "":
		entities, err = s.entities.ListByArea(r.Context(), r.URL.Query().Get("area"))
	default:
		entities, err = s.entities.List(r.Context())
	}
	if err != nil {
		s.logger.Error("listing states", "error", err)
		writeDomainError(w, err)
		return
	}

	states := make([]stateResponse, 0, len(entities))
	for i := range entities {
		states = append(states, toStateResponse(&entities[i]))
	}
	writeJSON(w, http.StatusOK, states)
}

// handleGetState returns one entity with its current state.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	e, err := s.entities.Get(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(e))
}

// handleGetHistory returns recorded state changes for one entity.
// ?start= and ?end= take RFC3339 timestamps; start defaults to 24h ago.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "state history is disabled")
		return
	}

	entityID := chi.URLParam(r, "entityID")
	if _, err := s.entities.Get(r.Context(), entityID); err != nil {
		writeDomainError(w, err)
		return
	}

	start := time.Now().UTC().Add(-24 * time.Hour)
	var end time.Time
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "start must be RFC3339")
			return
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "end must be RFC3339")
			return
		}
		end = t
	}

	entries, err := s.history.Query(r.Context(), entityID, start, end)
	if err != nil {
		s.logger.Error("querying history", "entity_id", entityID, "error", err)
		writeInternalError(w, "querying history failed")
		return
	}
	if entries == nil {
		entries = []entity.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// updateEntityRequest is the PATCH body for entity metadata.
// Pointer fields distinguish "absent" from "clear".
type updateEntityRequest struct {
	Name     *string `json:"name"`
	AreaID   *string `json:"area_id"`
	Icon     *string `json:"icon"`
	Disabled *bool   `json:"disabled"`
}

// handleUpdateEntity updates mutable entity metadata.
func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req updateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	e, err := s.entities.Get(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Name != nil {
		e.Name = *req.Name
	}
	if req.AreaID != nil {
		if *req.AreaID == "" {
			e.AreaID = nil
		} else {
			e.AreaID = req.AreaID
		}
	}
	if req.Icon != nil {
		if *req.Icon == "" {
			e.Icon = nil
		} else {
			e.Icon = req.Icon
		}
	}
	if req.Disabled != nil {
		e.Disabled = *req.Disabled
	}

	if err := s.entities.Update(r.Context(), e); err != nil {
		writeDomainError(w, err)
		return
	}

	updated, err := s.entities.Get(r.Context(), e.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(updated))
}
