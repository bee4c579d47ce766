package authapi

import (
	"time"

	"tokyoquest/cmd/internal/ratelimit"
	"tokyoquest/cmd/internal/session"
)

// callbackRequest is what the identity-provider callback delivers after
// a successful third-party authentication. Verifying the provider
// exchange itself is the caller's concern; this layer only receives the
// resolved identity.
type callbackRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type callbackResponse struct {
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
	Rotated bool            `json:"rotated"`
}

type meResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Staff     bool      `json:"staff"`
}

type adminSessionsResponse struct {
	Sessions  session.RegistryStats               `json:"sessions"`
	RateLimit map[ratelimit.Class]ratelimit.Stats `json:"rate_limit"`
}
