package session

import (
	"context"
	"sync"
	"time"

	"tokyoquest/cmd/internal/metrics"
)

// Registry is the in-memory directory of active sessions, keyed by
// opaque token ID.
//
// All mutating operations are serialized by a single mutex: the state is
// single-process in-memory and every operation completes in
// microseconds, so ordinary mutual exclusion suffices (and makes the
// login invalidate-then-register sequence atomic). Audit events are
// collected under the lock and emitted after it is released.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	records map[string]*Record
	byUser  map[string]map[string]struct{}
	sink    AuditSink
}

// RegistryStats is the read-only diagnostic snapshot.
type RegistryStats struct {
	TotalSessions    int     `json:"total_sessions"`
	MaxSize          int     `json:"max_size"`
	UsagePercentage  float64 `json:"usage_percentage"`
	ExpiredSessions  int     `json:"expired_sessions"`
	InactiveSessions int     `json:"inactive_sessions"`
}

// CleanupResult reports what a CleanupExpired pass removed.
type CleanupResult struct {
	Expired  int
	Inactive int
	Evicted  int
}

// NewRegistry constructs a Registry. A nil sink disables auditing.
func NewRegistry(cfg Config, sink AuditSink) *Registry {
	return &Registry{
		cfg:     cfg,
		records: make(map[string]*Record, cfg.MaxSize),
		byUser:  make(map[string]map[string]struct{}),
		sink:    sink,
	}
}

// Add inserts a record under rec.TokenID.
//
// Global-capacity LRU eviction runs first, then the per-user FIFO cap.
// Each eviction is itself an audited invalidation performed before the
// new insert.
func (r *Registry) Add(ctx context.Context, now time.Time, rec Record) {
	r.insert(ctx, now, rec, EventSessionCreated, nil)
}

// Adopt re-registers a structurally valid credential whose record was
// lost (e.g. after a process restart). Identical to Add except for the
// audit event, so operators can tell lazily adopted sessions apart.
func (r *Registry) Adopt(ctx context.Context, now time.Time, rec Record) {
	r.insert(ctx, now, rec, EventSessionAdopted, nil)
}

// ReplaceForUser atomically invalidates every session owned by
// rec.UserID and inserts rec, all under one lock acquisition. This is
// the login transition: the fixation defense requires that no stale
// session for the user can coexist with the new one, even briefly.
func (r *Registry) ReplaceForUser(ctx context.Context, now time.Time, rec Record, reason Reason) int {
	var removed int
	r.insert(ctx, now, rec, EventSessionCreated, func() []auditedRemoval {
		var removals []auditedRemoval
		for tokenID := range r.byUser[rec.UserID] {
			if removal, ok := r.removeLocked(tokenID, reason); ok {
				removals = append(removals, removal)
			}
		}
		removed = len(removals)
		return removals
	})
	if removed > 0 {
		r.emit(ctx, AuditEvent{
			Time:     now,
			Event:    EventBulkInvalidated,
			Severity: SeverityInfo,
			UserID:   rec.UserID,
			Details:  map[string]any{"count": removed, "reason": string(reason)},
		})
	}
	return removed
}

// insert is the shared Add/Adopt/ReplaceForUser path. preRemove, when
// set, runs under the lock before capacity checks.
func (r *Registry) insert(ctx context.Context, now time.Time, rec Record, event string, preRemove func() []auditedRemoval) {
	if rec.TokenID == "" || rec.UserID == "" {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastAccess.IsZero() {
		rec.LastAccess = now
	}

	r.mu.Lock()
	var evicted []auditedRemoval

	if preRemove != nil {
		evicted = append(evicted, preRemove()...)
	}
	if len(r.records) >= r.cfg.MaxSize {
		evicted = append(evicted, r.evictLRULocked(r.lowWaterTarget()-1, ReasonCapacityEvicted)...)
	}
	evicted = append(evicted, r.evictUserOverflowLocked(rec.UserID)...)

	r.records[rec.TokenID] = &rec
	u := r.byUser[rec.UserID]
	if u == nil {
		u = make(map[string]struct{})
		r.byUser[rec.UserID] = u
	}
	u[rec.TokenID] = struct{}{}
	total := len(r.records)
	r.mu.Unlock()

	metrics.SetActiveSessions(total)
	r.emitRemovals(ctx, now, evicted)
	r.emit(ctx, AuditEvent{
		Time:      now,
		Event:     event,
		Severity:  SeverityInfo,
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		IP:        rec.IP,
		UserAgent: rec.UserAgent,
	})
}

// Get returns a copy of the record for tokenID.
func (r *Registry) Get(tokenID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[tokenID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Touch updates LastAccess to now. Touching an absent token is a no-op.
func (r *Registry) Touch(tokenID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[tokenID]; ok {
		if now.After(rec.LastAccess) {
			rec.LastAccess = now
		}
	}
}

// RotateSessionID replaces the session ID of the record bound to tokenID
// in place, keeping the credential identity. Returns the new record.
func (r *Registry) RotateSessionID(ctx context.Context, now time.Time, tokenID, newSessionID string) (Record, bool) {
	r.mu.Lock()
	rec, ok := r.records[tokenID]
	if !ok {
		r.mu.Unlock()
		return Record{}, false
	}
	old := rec.SessionID
	rec.SessionID = newSessionID
	if now.After(rec.LastAccess) {
		rec.LastAccess = now
	}
	snapshot := *rec
	r.mu.Unlock()

	metrics.CountRotation()
	r.emit(ctx, AuditEvent{
		Time:      now,
		Event:     EventSessionIDRotated,
		Severity:  SeverityInfo,
		UserID:    snapshot.UserID,
		SessionID: newSessionID,
		IP:        snapshot.IP,
		UserAgent: snapshot.UserAgent,
		Details:   map[string]any{"previous_session_id": old},
	})
	return snapshot, true
}

// Invalidate removes the record for tokenID and emits one audit event.
// Invalidating an absent token is a no-op, not an error.
func (r *Registry) Invalidate(ctx context.Context, now time.Time, tokenID string, reason Reason) bool {
	r.mu.Lock()
	removal, ok := r.removeLocked(tokenID, reason)
	total := len(r.records)
	r.mu.Unlock()

	if !ok {
		return false
	}
	metrics.SetActiveSessions(total)
	r.emitRemovals(ctx, now, []auditedRemoval{removal})
	return true
}

// InvalidateAllForUser removes every record owned by userID, emitting
// one audit event per removal plus a summary event with the count.
func (r *Registry) InvalidateAllForUser(ctx context.Context, now time.Time, userID string, reason Reason) int {
	r.mu.Lock()
	var removals []auditedRemoval
	for tokenID := range r.byUser[userID] {
		if removal, ok := r.removeLocked(tokenID, reason); ok {
			removals = append(removals, removal)
		}
	}
	total := len(r.records)
	r.mu.Unlock()

	metrics.SetActiveSessions(total)
	r.emitRemovals(ctx, now, removals)
	if len(removals) > 0 {
		r.emit(ctx, AuditEvent{
			Time:     now,
			Event:    EventBulkInvalidated,
			Severity: SeverityInfo,
			UserID:   userID,
			Details:  map[string]any{"count": len(removals), "reason": string(reason)},
		})
	}
	return len(removals)
}

// CleanupExpired invalidates every record past its absolute age or idle
// limit. If occupancy is still above the high watermark afterwards, it
// evicts further by LRU down to the low watermark.
//
// The core never schedules this itself; hosts wire it to their own
// ticker (Config.CleanupInterval is the suggested period). It is safe to
// invoke concurrently with request-path mutations.
func (r *Registry) CleanupExpired(ctx context.Context, now time.Time) CleanupResult {
	r.mu.Lock()
	var res CleanupResult
	var removals []auditedRemoval

	for tokenID, rec := range r.records {
		switch {
		case rec.expired(now, r.cfg.MaxAge):
			if removal, ok := r.removeLocked(tokenID, ReasonExpired); ok {
				removals = append(removals, removal)
				res.Expired++
			}
		case rec.inactive(now, r.cfg.InactivityTimeout):
			if removal, ok := r.removeLocked(tokenID, ReasonInactive); ok {
				removals = append(removals, removal)
				res.Inactive++
			}
		}
	}

	if len(r.records) > r.highWaterTarget() {
		lru := r.evictLRULocked(r.lowWaterTarget(), ReasonCapacityEvicted)
		removals = append(removals, lru...)
		res.Evicted = len(lru)
	}
	total := len(r.records)
	r.mu.Unlock()

	metrics.SetActiveSessions(total)
	r.emitRemovals(ctx, now, removals)
	return res
}

// Stats returns a read-only snapshot with no side effects. Expired and
// inactive counts reflect records a cleanup pass would remove at now.
func (r *Registry) Stats(now time.Time) RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := RegistryStats{
		TotalSessions: len(r.records),
		MaxSize:       r.cfg.MaxSize,
	}
	if r.cfg.MaxSize > 0 {
		st.UsagePercentage = float64(len(r.records)) / float64(r.cfg.MaxSize) * 100
	}
	for _, rec := range r.records {
		switch {
		case rec.expired(now, r.cfg.MaxAge):
			st.ExpiredSessions++
		case rec.inactive(now, r.cfg.InactivityTimeout):
			st.InactiveSessions++
		}
	}
	return st
}

// Len returns the current number of records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ---- internals (callers hold r.mu) ----

type auditedRemoval struct {
	rec    Record
	reason Reason
}

func (r *Registry) removeLocked(tokenID string, reason Reason) (auditedRemoval, bool) {
	rec, ok := r.records[tokenID]
	if !ok {
		return auditedRemoval{}, false
	}
	delete(r.records, tokenID)
	if u := r.byUser[rec.UserID]; u != nil {
		delete(u, tokenID)
		if len(u) == 0 {
			delete(r.byUser, rec.UserID)
		}
	}
	return auditedRemoval{rec: *rec, reason: reason}, true
}

// evictLRULocked removes least-recently-used records until at most
// target remain.
func (r *Registry) evictLRULocked(target int, reason Reason) []auditedRemoval {
	if target < 0 {
		target = 0
	}
	var removals []auditedRemoval
	for len(r.records) > target {
		var oldestID string
		var oldest time.Time
		for tokenID, rec := range r.records {
			if oldestID == "" || rec.LastAccess.Before(oldest) {
				oldestID = tokenID
				oldest = rec.LastAccess
			}
		}
		if oldestID == "" {
			break
		}
		if removal, ok := r.removeLocked(oldestID, reason); ok {
			removals = append(removals, removal)
		}
	}
	return removals
}

// evictUserOverflowLocked removes the user's oldest sessions (FIFO by
// CreatedAt) until one slot is free under the per-user cap.
func (r *Registry) evictUserOverflowLocked(userID string) []auditedRemoval {
	var removals []auditedRemoval
	for len(r.byUser[userID]) >= r.cfg.MaxSessionsPerUser {
		var oldestID string
		var oldest time.Time
		for tokenID := range r.byUser[userID] {
			rec := r.records[tokenID]
			if rec == nil {
				continue
			}
			if oldestID == "" || rec.CreatedAt.Before(oldest) {
				oldestID = tokenID
				oldest = rec.CreatedAt
			}
		}
		if oldestID == "" {
			break
		}
		if removal, ok := r.removeLocked(oldestID, ReasonUserLimitEvicted); ok {
			removals = append(removals, removal)
		}
	}
	return removals
}

func (r *Registry) lowWaterTarget() int {
	return int(float64(r.cfg.MaxSize) * r.cfg.LowWater)
}

func (r *Registry) highWaterTarget() int {
	return int(float64(r.cfg.MaxSize) * r.cfg.HighWater)
}

func (r *Registry) emit(ctx context.Context, ev AuditEvent) {
	if r.sink != nil {
		r.sink.Emit(ctx, ev)
	}
}

func (r *Registry) emitRemovals(ctx context.Context, now time.Time, removals []auditedRemoval) {
	for _, removal := range removals {
		metrics.CountInvalidation(string(removal.reason))
		severity := SeverityInfo
		if removal.reason == ReasonIPMismatch {
			severity = SeverityWarning
		}
		r.emit(ctx, AuditEvent{
			Time:      now,
			Event:     EventSessionInvalidated,
			Severity:  severity,
			UserID:    removal.rec.UserID,
			SessionID: removal.rec.SessionID,
			IP:        removal.rec.IP,
			UserAgent: removal.rec.UserAgent,
			Details:   map[string]any{"reason": string(removal.reason)},
		})
	}
}
