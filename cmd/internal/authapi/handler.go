// Package authapi exposes the HTTP surface of the session-security
// core: the identity-provider callback, periodic refresh, logout, and a
// staff-only diagnostics endpoint.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tokyoquest/cmd/directory"
	"tokyoquest/cmd/internal/gate"
	"tokyoquest/cmd/internal/ratelimit"
	"tokyoquest/cmd/internal/session"
)

// Handler wires HTTP auth endpoints to the session service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *session.Service
	gate     *gate.Gate
	dir      directory.Directory
}

// NewHandler constructs the auth Handler. The directory may be nil; the
// /admin surface then rejects everything.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, g *gate.Gate, dir directory.Directory) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if g == nil {
		return nil, errors.New("authapi: nil gate")
	}
	return &Handler{log: log, cfg: cfg, sessions: sessions, gate: g, dir: dir}, nil
}

// Register wires auth routes onto the provided mux. Every route passes
// through the request gate with its traffic class.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle("/auth/callback", h.gate.Throttle(ratelimit.ClassAuth, http.HandlerFunc(h.handleCallback)))
	mux.Handle("/auth/refresh", h.gate.Throttle(ratelimit.ClassAuth, http.HandlerFunc(h.handleRefresh)))
	mux.Handle("/auth/logout", h.gate.Throttle(ratelimit.ClassAuth, http.HandlerFunc(h.handleLogout)))
	mux.Handle("/auth/logout_all", h.gate.Protect(ratelimit.ClassAuth, http.HandlerFunc(h.handleLogoutAll)))
	mux.Handle("/auth/me", h.gate.Protect(ratelimit.ClassGeneral, http.HandlerFunc(h.handleMe)))
	mux.Handle("/admin/sessions", h.gate.ProtectStaff(ratelimit.ClassAdmin, http.HandlerFunc(h.handleAdminSessions)))
}

// ---- handlers ----

// handleCallback runs the full invalidate-then-reissue sequence for a
// successful third-party authentication.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callbackRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		gate.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		gate.WriteError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	now := time.Now().UTC()
	issued, err := h.sessions.EstablishSession(r.Context(), now, session.Identity{
		UserID:    userID,
		Email:     strings.TrimSpace(req.Email),
		IP:        ratelimit.ClientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	})
	if err != nil {
		h.log.Error("auth.callback.fail", "err", err, "user_id", userID)
		gate.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	resp := callbackResponse{Session: sessionResponse{
		SessionID: issued.Claims.SessionID,
		Token:     issued.Credential,
		ExpiresAt: issued.Claims.ExpiresAt,
	}}
	if h.cfg.CookieEnabled {
		h.setSessionCookie(w, issued.Credential, issued.Claims.ExpiresAt)
		resp.Session.Token = ""
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh is the periodic "update" trigger: it advances last
// activity, enforces the inactivity timeout, and may rotate the session
// ID in place.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := h.credential(r)
	if raw == "" {
		gate.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing credential")
		return
	}

	now := time.Now().UTC()
	ip := ratelimit.ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	oldSID := ""
	if c, err := h.sessions.Peek(raw, now); err == nil {
		oldSID = c.SessionID
	}

	issued, err := h.sessions.RefreshSession(r.Context(), raw, ip, ua, now)
	if err != nil {
		h.clearSessionCookie(w)
		gate.WriteError(w, http.StatusUnauthorized, "unauthorized", gate.RejectionMessage(err))
		return
	}

	resp := refreshResponse{
		Session: sessionResponse{
			SessionID: issued.Claims.SessionID,
			Token:     issued.Credential,
			ExpiresAt: issued.Claims.ExpiresAt,
		},
		Rotated: oldSID != "" && oldSID != issued.Claims.SessionID,
	}
	if h.cfg.CookieEnabled {
		h.setSessionCookie(w, issued.Credential, issued.Claims.ExpiresAt)
		resp.Session.Token = ""
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := h.credential(r)
	if raw != "" {
		// Best effort: a malformed credential still clears the cookie.
		_ = h.sessions.Logout(r.Context(), raw, time.Now().UTC(), session.ReasonUserLogout)
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := gate.ClaimsFrom(r.Context())
	if !ok {
		gate.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	count := h.sessions.Registry().InvalidateAllForUser(r.Context(), time.Now().UTC(), claims.UserID, session.ReasonUserLogout)
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": count})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := gate.ClaimsFrom(r.Context())
	if !ok {
		gate.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	resp := meResponse{
		UserID:    claims.UserID,
		Email:     claims.Email,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt,
	}
	if h.dir != nil {
		if staff, err := h.dir.IsStaff(r.Context(), claims.UserID); err == nil {
			resp.Staff = staff
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAdminSessions exposes registry and limiter diagnostics to staff.
func (h *Handler) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	now := time.Now().UTC()
	resp := adminSessionsResponse{
		Sessions:  h.sessions.Registry().Stats(now),
		RateLimit: map[ratelimit.Class]ratelimit.Stats{},
	}
	for _, class := range []ratelimit.Class{ratelimit.ClassGeneral, ratelimit.ClassAuth, ratelimit.ClassAdmin, ratelimit.ClassUpload} {
		resp.RateLimit[class] = h.gate.Limiter(class).Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
