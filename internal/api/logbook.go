package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hearthd/hearth-core/internal/logbook"
)

// handleLogbook returns paginated logbook entries, most recent first.
//
// Query parameters: kind, entity_id, start, end (RFC3339), limit,
// offset.
func (s *Server) handleLogbook(w http.ResponseWriter, r *http.Request) {
	if s.logbook == nil {
		writeNotFound(w, "logbook is disabled")
		return
	}

	q := r.URL.Query()
	filter := logbook.Filter{
		Kind:     q.Get("kind"),
		EntityID: q.Get("entity_id"),
	}

	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "start must be RFC3339")
			return
		}
		filter.Start = t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "end must be RFC3339")
			return
		}
		filter.End = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.logbook.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("querying logbook", "error", err)
		writeInternalError(w, "querying logbook failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
