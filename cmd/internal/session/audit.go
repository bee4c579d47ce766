package session

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Severity classifies audit events for downstream alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AuditEvent is the structured record emitted for every create,
// invalidate, evict, and rotate transition.
type AuditEvent struct {
	Time      time.Time
	Event     string
	Severity  Severity
	UserID    string
	SessionID string
	IP        string
	UserAgent string
	Details   map[string]any
}

// AuditSink receives security-audit events. Implementations must not
// block the request path; failures are logged, never propagated.
type AuditSink interface {
	Emit(ctx context.Context, ev AuditEvent)
}

// Audit event names used by the registry and rotation service.
const (
	EventSessionCreated     = "SESSION_CREATED"
	EventSessionInvalidated = "SESSION_INVALIDATED"
	EventSessionAdopted     = "SESSION_ADOPTED"
	EventSessionIDRotated   = "SESSION_ID_ROTATED"
	EventBulkInvalidated    = "SESSIONS_BULK_INVALIDATED"
)

// LogSink writes audit events to a structured logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink constructs an AuditSink over slog.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

// Emit logs the event at a level matching its severity. Secret-looking
// detail values are redacted before emission.
func (s *LogSink) Emit(_ context.Context, ev AuditEvent) {
	attrs := []any{
		"event", ev.Event,
		"severity", string(ev.Severity),
		"user_id", ev.UserID,
		"session_id", ev.SessionID,
		"ip", ev.IP,
		"user_agent", ev.UserAgent,
	}
	for k, v := range RedactDetails(ev.Details) {
		attrs = append(attrs, "detail."+k, v)
	}

	switch ev.Severity {
	case SeverityCritical:
		s.log.Error("session.audit", attrs...)
	case SeverityWarning:
		s.log.Warn("session.audit", attrs...)
	default:
		s.log.Info("session.audit", attrs...)
	}
}

// RedactDetails returns a copy of details with secret-looking values
// replaced. A value is considered secret when its key names a
// credential or when it looks like a signed token.
func RedactDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if secretKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok && looksLikeToken(s) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func secretKey(k string) bool {
	k = strings.ToLower(k)
	for _, needle := range []string{"token", "secret", "password", "authorization", "credential"} {
		if strings.Contains(k, needle) {
			return true
		}
	}
	return false
}

// looksLikeToken matches the three-part base64url shape of a signed JWT.
func looksLikeToken(s string) bool {
	if len(s) < 32 {
		return false
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
