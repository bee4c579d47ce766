package ratelimit

import (
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Unknown is substituted for any missing fingerprint component. Absent
// headers never fail a request.
const Unknown = "unknown"

// Fingerprinter derives deterministic client fingerprints from IP,
// User-Agent, and (optionally) an authenticated user ID.
//
// Components are hashed with keyed BLAKE2b so raw addresses and agent
// strings never become map keys or log fields; the optional key makes
// fingerprints unlinkable across deployments.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter constructs a Fingerprinter. The key may be empty;
// when set it must be at most 64 bytes (the BLAKE2b key limit).
func NewFingerprinter(key string) (*Fingerprinter, error) {
	if len(key) > 64 {
		return nil, errKeyTooLong
	}
	var kb []byte
	if key != "" {
		kb = []byte(key)
	}
	// Probe the key once so Derive can't fail later.
	if _, err := blake2b.New256(kb); err != nil {
		return nil, err
	}
	return &Fingerprinter{key: kb}, nil
}

// Derive returns the fingerprint for the given components. The same
// logical client always produces the same value; missing components
// degrade to "unknown" rather than failing.
func (f *Fingerprinter) Derive(ip, userAgent, userID string) string {
	if ip == "" {
		ip = Unknown
	}
	if userAgent == "" {
		userAgent = Unknown
	}

	h, _ := blake2b.New256(f.key)
	h.Write([]byte(ip))
	h.Write([]byte{0})
	h.Write([]byte(userAgent))
	if userID != "" {
		h.Write([]byte{0})
		h.Write([]byte(userID))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// FromRequest derives the fingerprint for an inbound request.
func (f *Fingerprinter) FromRequest(r *http.Request, trustProxy bool, userID string) string {
	return f.Derive(ClientIP(r, trustProxy), strings.TrimSpace(r.UserAgent()), userID)
}

// ClientIP extracts the client address. Forwarding headers are only
// honored when the deployment trusts its proxy, otherwise a spoofed
// X-Forwarded-For would let clients mint fresh rate-limit buckets.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
