package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and metrics (no auth, for probes and scrapers)
		r.Get("/health", s.handleHealth)
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics)
		}

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Session token exchange (authenticated with an API token)
			r.Post("/auth/session", s.handleCreateSession)

			// API token management
			r.Route("/auth/tokens", func(r chi.Router) {
				r.Get("/", s.handleListTokens)
				r.Post("/", s.handleCreateToken)
				r.Delete("/{id}", s.handleRevokeToken)
			})

			// Entity state
			r.Route("/states", func(r chi.Router) {
				r.Get("/", s.handleListStates)
				r.Get("/{entityID}", s.handleGetState)
				r.Get("/{entityID}/history", s.handleGetHistory)
			})

			// Entity metadata
			r.Patch("/entities/{entityID}", s.handleUpdateEntity)

			// Services
			r.Route("/services", func(r chi.Router) {
				r.Get("/", s.handleListServices)
				r.Post("/{domain}/{service}", s.handleCallService)
			})

			// Areas
			r.Route("/areas", func(r chi.Router) {
				r.Get("/", s.handleListAreas)
				r.Post("/", s.handleCreateArea)
				r.Patch("/{id}", s.handleUpdateArea)
				r.Delete("/{id}", s.handleDeleteArea)
			})

			// Config entries
			r.Route("/config/entries", func(r chi.Router) {
				r.Get("/", s.handleListEntries)
				r.Post("/", s.handleCreateEntry)
				r.Delete("/{id}", s.handleRemoveEntry)
				r.Post("/{id}/reload", s.handleReloadEntry)
				r.Post("/{id}/disable", s.handleDisableEntry)
				r.Post("/{id}/enable", s.handleEnableEntry)
			})

			// Logbook
			r.Get("/logbook", s.handleLogbook)

			// WebRTC ICE servers for camera/intercom clients
			r.Get("/webrtc/ice-servers", s.handleICEServers)

			// Connected hardware snapshot
			r.Get("/hardware", s.handleHardware)

			// WebSocket event stream
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
