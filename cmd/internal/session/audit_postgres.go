package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink persists audit events into questguard.audit_log.
//
// The pgx pool is owned by the caller; this sink must not close it.
// Insert failures are logged and swallowed so the request path never
// depends on audit durability.
type PostgresSink struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresSink constructs a Postgres-backed AuditSink.
func NewPostgresSink(pool *pgxpool.Pool, log *slog.Logger) *PostgresSink {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresSink{pool: pool, log: log}
}

// Emit inserts one audit_log row.
func (s *PostgresSink) Emit(ctx context.Context, ev AuditEvent) {
	if s == nil || s.pool == nil {
		return
	}

	var detailsVal *string
	if redacted := RedactDetails(ev.Details); len(redacted) > 0 {
		if b, err := json.Marshal(redacted); err == nil {
			v := string(b)
			detailsVal = &v
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO questguard.audit_log (
			event, severity, user_id, session_id, created_at, ip, user_agent, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
	`, ev.Event, string(ev.Severity), nilIfEmpty(ev.UserID), nilIfEmpty(ev.SessionID),
		ev.Time, nilIfEmpty(ev.IP), nilIfEmpty(ev.UserAgent), detailsVal)
	if err != nil {
		s.log.Error("session.audit.insert.fail", "err", err, "event", ev.Event)
	}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// FanoutSink emits to every wrapped sink in order.
type FanoutSink []AuditSink

// Emit delivers ev to all sinks.
func (f FanoutSink) Emit(ctx context.Context, ev AuditEvent) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}
