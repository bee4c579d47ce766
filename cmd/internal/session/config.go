package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls registry capacity and eviction watermarks, per-user session
// caps, expiry and rotation policy, and the JWT signing secret.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of issued credentials.
	Issuer string

	// MaxSize bounds the total number of registry entries. When at or
	// over capacity the registry evicts least-recently-used records down
	// to the low watermark before inserting.
	MaxSize int

	// MaxSessionsPerUser caps concurrently active sessions per user.
	// Creating one more evicts that user's oldest session (FIFO).
	MaxSessionsPerUser int

	// MaxAge is the absolute session (and credential) lifetime.
	MaxAge time.Duration

	// InactivityTimeout invalidates sessions idle longer than this.
	InactivityTimeout time.Duration

	// RotationThreshold is the idle interval after which a refresh mints
	// a new session ID in place (defense in depth, same token ID).
	RotationThreshold time.Duration

	// CleanupInterval is the suggested period between CleanupExpired
	// sweeps. The core never schedules timers itself; the host runtime
	// owns the ticker.
	CleanupInterval time.Duration

	// LowWater and HighWater are occupancy fractions: cleanup evicts by
	// LRU down to LowWater whenever occupancy is above HighWater, and
	// Add evicts down to LowWater when the registry is full.
	LowWater  float64
	HighWater float64

	// ClockSkew is the allowed time skew during credential validation.
	ClockSkew time.Duration

	// TokenIDBytes is the number of random bytes behind opaque token IDs.
	TokenIDBytes int

	// SigningSecret is the HS256 key for issued credentials (min 32 bytes).
	SigningSecret string
}

// DefaultConfig returns the production-scale defaults.
//
// Tests use smaller registries; the signing secret must always be
// provided explicitly.
func DefaultConfig() Config {
	return Config{
		Issuer:             "questguard",
		MaxSize:            1000,
		MaxSessionsPerUser: 3,
		MaxAge:             24 * time.Hour,
		InactivityTimeout:  30 * time.Minute,
		RotationThreshold:  3 * time.Hour,
		CleanupInterval:    10 * time.Minute,
		LowWater:           0.80,
		HighWater:          0.90,
		ClockSkew:          30 * time.Second,
		TokenIDBytes:       32,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - QUESTGUARD_SESSION_SIGNING_SECRET (min 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - QUESTGUARD_SESSION_ISSUER
//   - QUESTGUARD_SESSION_MAX_SIZE
//   - QUESTGUARD_SESSION_MAX_PER_USER
//   - QUESTGUARD_SESSION_MAX_AGE
//   - QUESTGUARD_SESSION_INACTIVITY_TIMEOUT
//   - QUESTGUARD_SESSION_ROTATION_THRESHOLD
//   - QUESTGUARD_SESSION_CLEANUP_INTERVAL
//   - QUESTGUARD_SESSION_CLOCK_SKEW
//   - QUESTGUARD_SESSION_TOKEN_ID_BYTES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("QUESTGUARD_SESSION_ISSUER"); v != "" {
		cfg.Issuer = strings.TrimSpace(v)
	}

	if v := os.Getenv("QUESTGUARD_SESSION_MAX_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxSize = n
	}

	if v := os.Getenv("QUESTGUARD_SESSION_MAX_PER_USER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxSessionsPerUser = n
	}

	if d, err := envDuration("QUESTGUARD_SESSION_MAX_AGE", cfg.MaxAge); err != nil {
		return Config{}, err
	} else {
		cfg.MaxAge = d
	}

	if d, err := envDuration("QUESTGUARD_SESSION_INACTIVITY_TIMEOUT", cfg.InactivityTimeout); err != nil {
		return Config{}, err
	} else {
		cfg.InactivityTimeout = d
	}

	if d, err := envDuration("QUESTGUARD_SESSION_ROTATION_THRESHOLD", cfg.RotationThreshold); err != nil {
		return Config{}, err
	} else {
		cfg.RotationThreshold = d
	}

	if d, err := envDuration("QUESTGUARD_SESSION_CLEANUP_INTERVAL", cfg.CleanupInterval); err != nil {
		return Config{}, err
	} else {
		cfg.CleanupInterval = d
	}

	if v := os.Getenv("QUESTGUARD_SESSION_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("QUESTGUARD_SESSION_TOKEN_ID_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 16 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.TokenIDBytes = n
	}

	cfg.SigningSecret = os.Getenv("QUESTGUARD_SESSION_SIGNING_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the config invariants shared by env and programmatic
// construction.
func (c Config) Validate() error {
	if len(c.SigningSecret) < 32 {
		return ErrConfig
	}
	if c.MaxSize <= 0 || c.MaxSessionsPerUser <= 0 {
		return ErrConfig
	}
	if c.MaxAge <= 0 || c.InactivityTimeout <= 0 || c.RotationThreshold <= 0 {
		return ErrConfig
	}
	if c.LowWater <= 0 || c.HighWater <= c.LowWater || c.HighWater > 1 {
		return ErrConfig
	}
	return nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, ErrConfig
	}
	return d, nil
}
