package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// TrustProxy controls whether forwarding headers are honored when
	// resolving client addresses for rate limiting and IP binding.
	TrustProxy bool

	// FingerprintKey keys the rate-limit fingerprint hash. Optional;
	// when empty, fingerprints are unkeyed but still hashed.
	FingerprintKey string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Security policy:
	// If true, the cookie transport must be secure and a fingerprint key
	// must be configured. Meant for production deployments.
	RequireSecureTransport bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("QUESTGUARD_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("QUESTGUARD_LOG_LEVEL", "info"),
		LogPretty: EnvBool("QUESTGUARD_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("QUESTGUARD_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("QUESTGUARD_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("QUESTGUARD_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("QUESTGUARD_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("QUESTGUARD_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("QUESTGUARD_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("QUESTGUARD_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("QUESTGUARD_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("QUESTGUARD_READINESS_REQUIRE_DB", false),

		TrustProxy:     EnvBool("QUESTGUARD_TRUST_PROXY", false),
		FingerprintKey: EnvString("QUESTGUARD_FINGERPRINT_KEY", ""),

		CORSAllowedOrigins:   EnvStringSlice("QUESTGUARD_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("QUESTGUARD_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("QUESTGUARD_CORS_MAX_AGE_SECONDS", 600),

		RequireSecureTransport: EnvBool("QUESTGUARD_REQUIRE_SECURE_TRANSPORT", false),
	}
}
