package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/configentry"
)

// createEntryRequest is the POST body for a new config entry.
type createEntryRequest struct {
	Domain   string         `json:"domain"`
	Title    string         `json:"title"`
	UniqueID *string        `json:"unique_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// handleListEntries returns all config entries, optionally narrowed
// with ?domain=.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	if s.entries == nil {
		writeJSON(w, http.StatusOK, []configentry.Entry{})
		return
	}

	var (
		entries []configentry.Entry
		err     error
	)
	if domain := r.URL.Query().Get("domain"); domain != "" {
		entries, err = s.entries.ListByDomain(r.Context(), domain)
	} else {
		entries, err = s.entries.List(r.Context())
	}
	if err != nil {
		s.logger.Error("listing config entries", "error", err)
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []configentry.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCreateEntry persists a new config entry and sets it up.
//
// A setup failure that schedules a background retry still returns 201:
// the entry is stored and will come up when the device does.
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	if s.entries == nil {
		writeNotFound(w, "config entries are disabled")
		return
	}
	var req createEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Domain == "" || req.Title == "" {
		writeBadRequest(w, "domain and title are required")
		return
	}

	entry := &configentry.Entry{
		Domain:   req.Domain,
		Title:    req.Title,
		UniqueID: req.UniqueID,
		Data:     req.Data,
	}
	if err := s.entries.Add(r.Context(), entry); err != nil && !errors.Is(err, configentry.ErrSetupRetry) {
		writeDomainError(w, err)
		return
	}

	created, err := s.entries.Get(r.Context(), entry.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleRemoveEntry unloads and deletes a config entry.
func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	if s.entries == nil {
		writeNotFound(w, "config entries are disabled")
		return
	}
	if err := s.entries.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
}

// handleReloadEntry unloads and re-runs setup for a config entry.
func (s *Server) handleReloadEntry(w http.ResponseWriter, r *http.Request) {
	if s.entries == nil {
		writeNotFound(w, "config entries are disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.entries.Reload(r.Context(), id); err != nil && !errors.Is(err, configentry.ErrSetupRetry) {
		writeDomainError(w, err)
		return
	}
	s.writeEntry(w, r, id)
}

// handleDisableEntry unloads an entry and marks it disabled.
func (s *Server) handleDisableEntry(w http.ResponseWriter, r *http.Request) {
	s.setEntryDisabled(w, r, true)
}

// handleEnableEntry re-enables an entry and sets it up again.
func (s *Server) handleEnableEntry(w http.ResponseWriter, r *http.Request) {
	s.setEntryDisabled(w, r, false)
}

func (s *Server) setEntryDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	if s.entries == nil {
		writeNotFound(w, "config entries are disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.entries.SetDisabled(r.Context(), id, disabled); err != nil && !errors.Is(err, configentry.ErrSetupRetry) {
		writeDomainError(w, err)
		return
	}
	s.writeEntry(w, r, id)
}

// writeEntry responds with the current stored state of one entry.
func (s *Server) writeEntry(w http.ResponseWriter, r *http.Request, id string) {
	entry, err := s.entries.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
