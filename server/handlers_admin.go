package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"romap-gateway/apierr"
	"romap-gateway/keystore"
	"romap-gateway/middleware/ratelimit/infra"
	"romap-gateway/response"
)

// maxAdminBody limita o corpo JSON das rotas de admin.
const maxAdminBody = 64 << 10

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type generateKeyRequest struct {
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody))
	if err := dec.Decode(v); err != nil {
		return apierr.Validation("Invalid JSON body", "")
	}
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil || !s.verifier.Check(req.Username, req.Password) {
		zerolog.Ctx(r.Context()).Warn().Str("username", req.Username).Msg("admin login failed")
		response.WriteError(w, r, apierr.Auth("Invalid credentials"))
		return
	}

	token, err := s.sessions.create(req.Username)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	s.setSessionCookie(w, token, int(s.sessions.ttl.Seconds()))
	zerolog.Ctx(r.Context()).Info().Str("username", req.Username).Msg("admin logged in")
	response.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.destroy(c.Value)
	}
	s.setSessionCookie(w, "", -1)
	response.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if err := decodeBody(w, r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}

	secret, err := s.opts.Keys.Issue(r.Context(), req.Name, req.IsAdmin)
	if errors.Is(err, keystore.ErrNameRequired) {
		response.WriteError(w, r, apierr.Validation("Key name is required", "name"))
		return
	}
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "apiKey": secret})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]any{"keys": s.opts.Keys.List()})
}

func (s *Server) handleSuspendKey(w http.ResponseWriter, r *http.Request) {
	s.setKeyState(w, r, s.opts.Keys.Suspend)
}

func (s *Server) handleActivateKey(w http.ResponseWriter, r *http.Request) {
	s.setKeyState(w, r, s.opts.Keys.Activate)
}

func (s *Server) setKeyState(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (bool, error)) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	found, err := op(r.Context(), id)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if !found {
		response.WriteJSON(w, http.StatusNotFound, map[string]any{"error": "API key not found"})
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.opts.Keys.Revoke(r.Context(), id); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGetMaintenance(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]any{"maintenanceMode": s.opts.Maintenance.Maintenance()})
}

func (s *Server) handleSetMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if err := decodeBody(w, r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}

	on := s.opts.Maintenance.SetMaintenance(req.Enabled)
	msg := "Maintenance mode disabled"
	if on {
		msg = "Maintenance mode enabled"
	}
	zerolog.Ctx(r.Context()).Warn().Bool("maintenance", on).Msg("maintenance mode changed")
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"maintenanceMode": on,
		"message":         msg,
	})
}

type admissionSummary struct {
	infra.Counters
	ByReason map[string]int64 `json:"byReason"`
}

func (s *Server) handleMonitorData(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if rl := s.opts.RequestLog; rl != nil {
		stats := rl.Stats()
		body["requests"] = rl.Entries()
		body["totalRequests"] = stats.TotalRequests
		body["successRate"] = stats.SuccessRate
		body["cacheRate"] = stats.CacheRate
	}
	if a := s.opts.Admissions; a != nil {
		body["admissions"] = admissionSummary{Counters: a.Total(), ByReason: a.ByReason()}
	}
	response.WriteJSON(w, http.StatusOK, body)
}
