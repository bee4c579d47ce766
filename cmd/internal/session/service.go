package session

import (
	"context"
	"errors"
	"time"
)

// Identity is what the external identity provider hands over after a
// successful third-party authentication.
type Identity struct {
	UserID    string
	Email     string
	IP        string
	UserAgent string
}

// Issued is the result of establishing or refreshing a session: the
// signed credential plus its decoded claims.
type Issued struct {
	Credential string
	Claims     Claims
}

// Service implements the credential lifecycle state machine:
// ISSUED -> ACTIVE -> {ROTATED | EXPIRED | INVALIDATED}. All terminal
// states converge to "absent from the registry".
type Service struct {
	cfg      Config
	registry *Registry
	tokens   CredentialManager
}

// NewService constructs a Service over the given registry and
// credential manager.
func NewService(cfg Config, registry *Registry, tokens CredentialManager) *Service {
	return &Service{cfg: cfg, registry: registry, tokens: tokens}
}

// Registry exposes the backing registry for stats and host-driven cleanup.
func (s *Service) Registry() *Registry {
	return s.registry
}

// EstablishSession is the ISSUED -> ACTIVE transition on successful
// primary authentication.
//
// It unconditionally invalidates all prior sessions for the user (an
// attacker-planted pre-auth session identifier must never become valid
// post-auth), then mints a fresh session ID and token ID, registers the
// record, and signs the outgoing credential. Invalidation and
// registration happen under a single registry lock acquisition.
func (s *Service) EstablishSession(ctx context.Context, now time.Time, id Identity) (Issued, error) {
	if id.UserID == "" {
		return Issued{}, ErrInvalidTokenStructure
	}

	sessionID, err := NewSessionID(now)
	if err != nil {
		return Issued{}, err
	}
	tokenID, err := NewTokenID(s.cfg.TokenIDBytes)
	if err != nil {
		return Issued{}, err
	}

	s.registry.ReplaceForUser(ctx, now, Record{
		SessionID:  sessionID,
		TokenID:    tokenID,
		UserID:     id.UserID,
		Email:      id.Email,
		IP:         id.IP,
		UserAgent:  id.UserAgent,
		CreatedAt:  now,
		LastAccess: now,
	}, ReasonNewLogin)

	claims := Claims{
		TokenID:      tokenID,
		SessionID:    sessionID,
		UserID:       id.UserID,
		Email:        id.Email,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.cfg.MaxAge),
		LastActivity: now,
	}
	credential, err := s.tokens.Issue(claims)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Credential: credential, Claims: claims}, nil
}

// ValidateToken is the ACTIVE self-loop run on every authenticated
// request.
//
// Rejection paths, in order: structural failure, expiry (registry entry
// removed as a side effect), IP mismatch (session fully invalidated). A
// structurally valid credential missing from the registry, typically
// after a process restart cleared in-memory state, is re-adopted rather
// than rejected: availability is deliberately favored over strict
// registry completeness for this edge case.
func (s *Service) ValidateToken(ctx context.Context, raw, ip, userAgent string, now time.Time) (Claims, error) {
	c, err := s.resolve(ctx, raw, ip, userAgent, now)
	if err != nil {
		return Claims{}, err
	}
	s.registry.Touch(c.TokenID, now)
	return c, nil
}

// RefreshSession is the periodic "update" trigger (roughly hourly
// client-side revalidation).
//
// Idle time beyond the inactivity timeout invalidates the session
// (ACTIVE -> INVALIDATED). Otherwise last activity is advanced and a
// fresh credential is signed; if the idle interval also exceeded the
// rotation threshold, a new session ID is minted in place while the
// token ID is kept (ACTIVE -> ROTATED self-transition).
func (s *Service) RefreshSession(ctx context.Context, raw, ip, userAgent string, now time.Time) (Issued, error) {
	c, err := s.resolve(ctx, raw, ip, userAgent, now)
	if err != nil {
		return Issued{}, err
	}

	lastActivity := c.LastActivity
	if rec, ok := s.registry.Get(c.TokenID); ok && rec.LastAccess.After(lastActivity) {
		lastActivity = rec.LastAccess
	}

	idle := now.Sub(lastActivity)
	if idle > s.cfg.InactivityTimeout {
		s.registry.Invalidate(ctx, now, c.TokenID, ReasonInactive)
		return Issued{}, ErrSessionInactive
	}

	if idle > s.cfg.RotationThreshold {
		newSID, err := NewSessionID(now)
		if err != nil {
			return Issued{}, err
		}
		if rec, ok := s.registry.RotateSessionID(ctx, now, c.TokenID, newSID); ok {
			c.SessionID = rec.SessionID
		}
	}

	s.registry.Touch(c.TokenID, now)
	c.LastActivity = now

	credential, err := s.tokens.Issue(c)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Credential: credential, Claims: c}, nil
}

// Peek decodes a credential without touching the registry or advancing
// activity. Expired credentials still yield their decoded claims.
func (s *Service) Peek(raw string, now time.Time) (Claims, error) {
	c, err := s.tokens.Verify(raw, now)
	if err != nil && !errors.Is(err, ErrTokenExpired) {
		return Claims{}, ErrInvalidTokenStructure
	}
	return c, nil
}

// Logout invalidates the credential's registry entry
// (ACTIVE -> INVALIDATED, terminal). An unknown or expired credential
// still results in a best-effort cleanup; only structural failures are
// reported.
func (s *Service) Logout(ctx context.Context, raw string, now time.Time, reason Reason) error {
	c, err := s.tokens.Verify(raw, now)
	if err != nil && !errors.Is(err, ErrTokenExpired) {
		return ErrInvalidTokenStructure
	}
	if !reason.Valid() {
		reason = ReasonUserLogout
	}
	s.registry.Invalidate(ctx, now, c.TokenID, reason)
	return nil
}

// resolve runs the shared structural, expiry, registry, and IP-binding
// checks for ValidateToken and RefreshSession.
func (s *Service) resolve(ctx context.Context, raw, ip, userAgent string, now time.Time) (Claims, error) {
	c, err := s.tokens.Verify(raw, now)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			s.registry.Invalidate(ctx, now, c.TokenID, ReasonExpired)
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidTokenStructure
	}

	rec, ok := s.registry.Get(c.TokenID)
	if !ok {
		// Lazy adoption: bind to the context presented now.
		created := c.IssuedAt
		if created.IsZero() {
			created = now
		}
		lastActivity := c.LastActivity
		if lastActivity.IsZero() {
			lastActivity = now
		}
		s.registry.Adopt(ctx, now, Record{
			SessionID:  c.SessionID,
			TokenID:    c.TokenID,
			UserID:     c.UserID,
			Email:      c.Email,
			IP:         ip,
			UserAgent:  userAgent,
			CreatedAt:  created,
			LastAccess: lastActivity,
		})
		return c, nil
	}

	if rec.IP != "" && ip != "" && rec.IP != ip {
		s.registry.Invalidate(ctx, now, c.TokenID, ReasonIPMismatch)
		return Claims{}, ErrIPMismatch
	}
	return c, nil
}
