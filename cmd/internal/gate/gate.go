// Package gate is the per-request composition point: rate limiting,
// session resolution, and authorization run here, in that order, before
// business handlers are dispatched.
package gate

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"tokyoquest/cmd/directory"
	"tokyoquest/cmd/internal/ratelimit"
	"tokyoquest/cmd/internal/session"
)

// Gate wires the rate limiter, token rotation service, and staff
// directory into http.Handler middleware.
type Gate struct {
	log        *slog.Logger
	sessions   *session.Service
	dir        directory.Directory
	fp         *ratelimit.Fingerprinter
	trustProxy bool
	cookieName string

	mu       sync.Mutex
	limiters map[ratelimit.Class]*ratelimit.Limiter
}

// Options configures a Gate. Sessions and Fingerprinter are required;
// Directory may be nil when no staff-only routes are registered.
type Options struct {
	Sessions    *session.Service
	Directory   directory.Directory
	Fingerprint *ratelimit.Fingerprinter
	Limiters    map[ratelimit.Class]*ratelimit.Limiter
	TrustProxy  bool
	CookieName  string
}

// New constructs a Gate.
func New(log *slog.Logger, opts Options) (*Gate, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Sessions == nil {
		return nil, errors.New("gate: nil session service")
	}
	if opts.Fingerprint == nil {
		return nil, errors.New("gate: nil fingerprinter")
	}
	cookieName := strings.TrimSpace(opts.CookieName)
	if cookieName == "" {
		cookieName = "questguard_session"
	}
	// Copy the map: the Gate mutates it under its own lock and must not
	// share ownership with the caller.
	limiters := make(map[ratelimit.Class]*ratelimit.Limiter, len(opts.Limiters))
	for class, l := range opts.Limiters {
		limiters[class] = l
	}
	return &Gate{
		log:        log,
		sessions:   opts.Sessions,
		dir:        opts.Directory,
		fp:         opts.Fingerprint,
		limiters:   limiters,
		trustProxy: opts.TrustProxy,
		cookieName: cookieName,
	}, nil
}

// Limiter returns the limiter for class, creating a default-configured
// one on first use. Lazy creation is a check-then-insert on shared
// state, so it runs under the gate's lock.
func (g *Gate) Limiter(class ratelimit.Class) *ratelimit.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, ok := g.limiters[class]; ok {
		return l
	}
	l := ratelimit.New(ratelimit.DefaultConfig(class))
	g.limiters[class] = l
	return l
}

// Throttle applies only the rate limiter for class. Used for public
// routes that need throttling but no session.
func (g *Gate) Throttle(class ratelimit.Class, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.allow(w, r, class) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Protect applies the full chain: limiter, then session validation. The
// resolved claims are placed on the request context.
func (g *Gate) Protect(class ratelimit.Class, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.allow(w, r, class) {
			return
		}
		claims, ok := g.resolveSession(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// ProtectStaff is Protect plus a staff check against the external user
// directory. The directory's answer is authoritative and never cached
// across requests.
func (g *Gate) ProtectStaff(class ratelimit.Class, next http.Handler) http.Handler {
	return g.Protect(class, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if g.dir == nil {
			WriteError(w, http.StatusForbidden, "forbidden", "staff access required")
			return
		}
		staff, err := g.dir.IsStaff(r.Context(), claims.UserID)
		if err != nil {
			g.log.Error("gate.staff_lookup.fail", "err", err, "user_id", claims.UserID)
			WriteError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		}
		if !staff {
			WriteError(w, http.StatusForbidden, "forbidden", "staff access required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// allow runs the limiter for class and writes the 429 on rejection.
func (g *Gate) allow(w http.ResponseWriter, r *http.Request, class ratelimit.Class) bool {
	fp := g.fp.FromRequest(r, g.trustProxy, "")
	d := g.Limiter(class).Check(fp, time.Now().UTC())
	if d.Allowed {
		return true
	}
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(d.RetryAfter.Seconds()+0.5), 10))
	}
	WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	return false
}

// resolveSession validates the presented credential and writes the 401
// on any failure. Every session rejection maps to "sign in again",
// never to a 500.
func (g *Gate) resolveSession(w http.ResponseWriter, r *http.Request) (session.Claims, bool) {
	raw := g.credential(r)
	if raw == "" {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "missing credential")
		return session.Claims{}, false
	}

	ip := ratelimit.ClientIP(r, g.trustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	claims, err := g.sessions.ValidateToken(r.Context(), raw, ip, ua, time.Now().UTC())
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "unauthorized", RejectionMessage(err))
		return session.Claims{}, false
	}
	return claims, true
}

// credential extracts the presented token: Authorization bearer header
// first, session cookie second.
func (g *Gate) credential(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw != "" {
		parts := strings.SplitN(raw, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if c, err := r.Cookie(g.cookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// RejectionMessage maps session-validation sentinels to the client-safe
// message used in 401 responses. Every rejection reads as "sign in
// again"; internals are never leaked.
func RejectionMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, session.ErrSessionInactive):
		return "session expired due to inactivity"
	case errors.Is(err, session.ErrIPMismatch):
		return "session invalidated"
	default:
		return "invalid token"
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// WriteError writes the JSON error envelope shared by the gate and the
// auth API: {"error": {"code": ..., "message": ...}}.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: apiError{Code: code, Message: msg}})
}
