package app

import (
	"errors"

	"tokyoquest/cmd/internal/authapi"
)

// ValidateSecurityConfig enforces the deployment security policy at startup.
//
// Fail-fast is intentional: a production instance silently running with
// insecure cookies or unkeyed fingerprints is worse than one that
// refuses to boot.
func ValidateSecurityConfig(cfg Config, authCfg authapi.Config) error {
	if !cfg.RequireSecureTransport {
		return nil
	}

	if authCfg.CookieEnabled && !authCfg.CookieSecure {
		return errors.New("security policy: QUESTGUARD_REQUIRE_SECURE_TRANSPORT=true but QUESTGUARD_AUTH_COOKIE_SECURE is disabled")
	}

	// Key bytes, not runes: the key feeds the hash as raw bytes.
	if len(cfg.FingerprintKey) < 16 {
		return errors.New("security policy: QUESTGUARD_REQUIRE_SECURE_TRANSPORT=true requires QUESTGUARD_FINGERPRINT_KEY (min 16 bytes)")
	}

	return nil
}
