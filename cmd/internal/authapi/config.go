package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config controls auth API behavior and transport defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Cookie transport for browser clients. When enabled, the signed
	// credential travels in an HttpOnly cookie instead of the response
	// body.
	CookieEnabled  bool
	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// LoadConfigFromEnv loads auth API config from environment variables
// with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:    envBool("QUESTGUARD_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:  envInt64("QUESTGUARD_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CookieEnabled: envBool("QUESTGUARD_AUTH_COOKIE_ENABLED", true),
		CookieName:    envString("QUESTGUARD_AUTH_COOKIE_NAME", "questguard_session"),
		CookiePath:    envString("QUESTGUARD_AUTH_COOKIE_PATH", "/"),
		CookieDomain:  envString("QUESTGUARD_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:  envBool("QUESTGUARD_AUTH_COOKIE_SECURE", true),
	}

	switch strings.ToLower(envString("QUESTGUARD_AUTH_COOKIE_SAMESITE", "lax")) {
	case "strict":
		cfg.CookieSameSite = http.SameSiteStrictMode
	case "none":
		cfg.CookieSameSite = http.SameSiteNoneMode
	default:
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
