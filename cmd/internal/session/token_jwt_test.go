package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testTokenConfig() Config {
	cfg := DefaultConfig()
	cfg.SigningSecret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func testClaims(t0 time.Time, ttl time.Duration) Claims {
	return Claims{
		TokenID:      "tok-1",
		SessionID:    "sid-1",
		UserID:       "user-a",
		Email:        "user-a@example.com",
		IssuedAt:     t0,
		ExpiresAt:    t0.Add(ttl),
		LastActivity: t0,
	}
}

func TestHS256_IssueAndVerify(t *testing.T) {
	mgr, err := NewHS256Manager(testTokenConfig())
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := mgr.Issue(testClaims(t0, time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	c, err := mgr.Verify(raw, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.TokenID != "tok-1" || c.SessionID != "sid-1" || c.UserID != "user-a" || c.Email != "user-a@example.com" {
		t.Fatalf("claims = %+v", c)
	}
	if !c.IssuedAt.Equal(t0) || !c.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("timestamps = %v / %v", c.IssuedAt, c.ExpiresAt)
	}
}

func TestHS256_ExpiredReturnsClaims(t *testing.T) {
	cfg := testTokenConfig()
	mgr, _ := NewHS256Manager(cfg)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, err := mgr.Issue(testClaims(t0, time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	c, err := mgr.Verify(raw, t0.Add(time.Hour+cfg.ClockSkew+time.Second))
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
	// The caller needs the token ID to remove the registry entry.
	if c.TokenID != "tok-1" {
		t.Fatalf("expired credential lost its claims: %+v", c)
	}
}

func TestHS256_SkewTolerance(t *testing.T) {
	cfg := testTokenConfig() // 30s skew
	mgr, _ := NewHS256Manager(cfg)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, _ := mgr.Issue(testClaims(t0, time.Hour))
	if _, err := mgr.Verify(raw, t0.Add(time.Hour+10*time.Second)); err != nil {
		t.Fatalf("verification inside the skew window failed: %v", err)
	}
}

func TestHS256_TamperedSignature(t *testing.T) {
	mgr, _ := NewHS256Manager(testTokenConfig())
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, _ := mgr.Issue(testClaims(t0, time.Hour))
	tampered := raw[:len(raw)-2] + "xx"
	if _, err := mgr.Verify(tampered, t0); !errors.Is(err, ErrInvalidTokenStructure) {
		t.Fatalf("err = %v, want ErrInvalidTokenStructure", err)
	}
}

func TestHS256_WrongSecret(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a, _ := NewHS256Manager(testTokenConfig())
	other := testTokenConfig()
	other.SigningSecret = strings.Repeat("x", 32)
	b, _ := NewHS256Manager(other)

	raw, _ := a.Issue(testClaims(t0, time.Hour))
	if _, err := b.Verify(raw, t0); !errors.Is(err, ErrInvalidTokenStructure) {
		t.Fatalf("err = %v, want ErrInvalidTokenStructure", err)
	}
}

func TestHS256_WrongIssuer(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	other := testTokenConfig()
	other.Issuer = "someone-else"
	a, _ := NewHS256Manager(other)
	b, _ := NewHS256Manager(testTokenConfig())

	raw, _ := a.Issue(testClaims(t0, time.Hour))
	if _, err := b.Verify(raw, t0); !errors.Is(err, ErrInvalidTokenStructure) {
		t.Fatalf("err = %v, want ErrInvalidTokenStructure", err)
	}
}

func TestHS256_IssueRequiresIdentifiers(t *testing.T) {
	mgr, _ := NewHS256Manager(testTokenConfig())
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		mutate func(*Claims)
	}{
		{"token id", func(c *Claims) { c.TokenID = "" }},
		{"session id", func(c *Claims) { c.SessionID = "" }},
		{"user id", func(c *Claims) { c.UserID = "" }},
	}
	for _, tc := range cases {
		c := testClaims(t0, time.Hour)
		tc.mutate(&c)
		if _, err := mgr.Issue(c); !errors.Is(err, ErrInvalidTokenStructure) {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
	}
}

func TestNewHS256Manager_ShortSecret(t *testing.T) {
	cfg := testTokenConfig()
	cfg.SigningSecret = "too-short"
	if _, err := NewHS256Manager(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestNewSessionID_MonotonicFormat(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := NewSessionID(now)
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("id %q, want 26-char ULID", id)
	}

	other, _ := NewSessionID(now)
	if id == other {
		t.Fatalf("two session IDs collided")
	}
}

func TestNewTokenID_Unique(t *testing.T) {
	a, err := NewTokenID(32)
	if err != nil {
		t.Fatalf("NewTokenID: %v", err)
	}
	b, _ := NewTokenID(32)
	if a == b {
		t.Fatalf("token IDs collided")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("token ID %q not URL-safe", a)
	}
}
