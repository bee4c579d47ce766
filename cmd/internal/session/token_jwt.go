package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity envelope carried by a questguard credential.
//
// TokenID is single-use per issuance: after a login-time rotation the
// previous value is no longer a registry key and must fail validation.
type Claims struct {
	TokenID      string
	SessionID    string
	UserID       string
	Email        string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// CredentialManager signs and verifies the opaque credential handed to
// clients. The transport (cookie or bearer header) is the caller's
// concern; this only defines required claims and their validation rules.
type CredentialManager interface {
	Issue(c Claims) (string, error)
	Verify(raw string, now time.Time) (Claims, error)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	SessionID    string `json:"sid"`
	Email        string `json:"email,omitempty"`
	LastActivity int64  `json:"last_activity,omitempty"`
}

type hs256Manager struct {
	issuer string
	secret []byte
	skew   time.Duration
}

// NewHS256Manager builds a CredentialManager over HMAC-SHA256 signed
// JWTs. The secret must be at least 32 bytes.
func NewHS256Manager(cfg Config) (CredentialManager, error) {
	if len(cfg.SigningSecret) < 32 {
		return nil, ErrConfig
	}
	return &hs256Manager{
		issuer: cfg.Issuer,
		secret: []byte(cfg.SigningSecret),
		skew:   cfg.ClockSkew,
	}, nil
}

func (m *hs256Manager) Issue(c Claims) (string, error) {
	if c.TokenID == "" || c.SessionID == "" || c.UserID == "" {
		return "", ErrInvalidTokenStructure
	}

	jc := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.TokenID,
			Subject:   c.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
		SessionID:    c.SessionID,
		Email:        c.Email,
		LastActivity: c.LastActivity.Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jc)
	return tok.SignedString(m.secret)
}

// Verify checks the signature, issuer, and required claims.
//
// Structural failures (bad signature, missing token/session/user id)
// return ErrInvalidTokenStructure. An otherwise well-formed but expired
// credential returns its parsed Claims together with ErrTokenExpired so
// the caller can clean up the backing registry entry.
func (m *hs256Manager) Verify(raw string, now time.Time) (Claims, error) {
	var jc jwtClaims
	_, err := jwt.ParseWithClaims(raw, &jc, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(m.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, ErrInvalidTokenStructure
	}

	c := Claims{
		TokenID:   jc.ID,
		SessionID: jc.SessionID,
		UserID:    jc.Subject,
		Email:     jc.Email,
	}
	if jc.IssuedAt != nil {
		c.IssuedAt = jc.IssuedAt.Time
	}
	if jc.ExpiresAt != nil {
		c.ExpiresAt = jc.ExpiresAt.Time
	}
	if jc.LastActivity > 0 {
		c.LastActivity = time.Unix(jc.LastActivity, 0).UTC()
	}

	// A credential missing any of these is never partially trusted.
	if c.TokenID == "" || c.SessionID == "" || c.UserID == "" {
		return Claims{}, ErrInvalidTokenStructure
	}

	if err != nil {
		return c, ErrTokenExpired
	}
	return c, nil
}
