package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth-core/internal/auth"
	"github.com/hearthd/hearth-core/internal/integrations/hardware"
	"github.com/hearthd/hearth-core/internal/webrtc"
)

// handleCreateSession exchanges a long-lived API token for a
// short-lived JWT. The API token itself must be presented as the
// bearer credential.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil || s.secCfg.JWT.Secret == "" {
		writeNotFound(w, "session tokens are disabled")
		return
	}

	bearer, ok := bearerToken(r)
	if !ok || !strings.HasPrefix(bearer, "hearth_") {
		writeUnauthorized(w, "an API token is required to create a session")
		return
	}

	token, err := s.tokens.VerifyToken(r.Context(), bearer)
	if err != nil {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ttl := s.secCfg.JWT.AccessTokenTTL
	jwt, err := auth.GenerateAccessToken(token.ID, token.Name, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("generating session token", "error", err)
		writeInternalError(w, "generating session token failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": jwt,
		"token_type":   "Bearer",
		"expires_in":   ttl * int(time.Minute/time.Second),
	})
}

// handleListTokens returns all API tokens without their secrets.
func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeJSON(w, http.StatusOK, []auth.APIToken{})
		return
	}
	tokens, err := s.tokens.List(r.Context())
	if err != nil {
		s.logger.Error("listing API tokens", "error", err)
		writeDomainError(w, err)
		return
	}
	if tokens == nil {
		tokens = []auth.APIToken{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

// createTokenRequest is the POST body for a new API token.
type createTokenRequest struct {
	Name string `json:"name"`
}

// handleCreateToken mints a new API token. The raw secret appears in
// this response only; it is stored hashed and cannot be recovered.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeNotFound(w, "API tokens are disabled")
		return
	}
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeBadRequest(w, "name is required")
		return
	}

	raw, token, err := s.tokens.CreateToken(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		s.logger.Error("creating API token", "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      raw,
		"id":         token.ID,
		"name":       token.Name,
		"created_at": token.CreatedAt,
	})
}

// handleRevokeToken permanently revokes an API token.
func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeNotFound(w, "API tokens are disabled")
		return
	}
	if err := s.tokens.Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
}

// handleICEServers returns the ICE servers currently offered by
// integrations, for browser WebRTC clients.
func (s *Server) handleICEServers(w http.ResponseWriter, _ *http.Request) {
	servers := []webrtc.Server{}
	if s.ice != nil {
		if list := s.ice.Servers(); list != nil {
			servers = list
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ice_servers": servers})
}

// handleHardware returns a snapshot of hardware currently claimed by
// integrations.
func (s *Server) handleHardware(w http.ResponseWriter, _ *http.Request) {
	infos := []hardware.Info{}
	if s.hardware != nil {
		if list := s.hardware.Snapshot(); list != nil {
			infos = list
		}
	}
	writeJSON(w, http.StatusOK, infos)
}
