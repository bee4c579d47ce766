// Package ratelimit implements a sliding-window request limiter with
// block escalation, keyed by client fingerprint.
//
// Each traffic class (general API, auth endpoints, admin endpoints,
// uploads) gets its own Limiter instance with its own thresholds. State
// is process-local; entries self-limit to active clients via an
// amortized purge on every call plus an explicit Cleanup operation for
// host schedulers.
package ratelimit

import (
	"sync"
	"time"

	"tokyoquest/cmd/internal/metrics"
)

// Decision is the outcome of one Check call. Fields are directly
// consumable by HTTP handlers that produce 429 responses with a
// Retry-After hint.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	Blocked    bool
	RetryAfter time.Duration
}

// Stats is a read-only diagnostic snapshot with no side effects.
type Stats struct {
	TotalEntries   int `json:"total_entries"`
	BlockedEntries int `json:"blocked_entries"`
}

type entry struct {
	count     int
	resetTime time.Time
	blocked   bool
}

// Limiter is a fingerprint-keyed sliding-window counter. Safe for
// concurrent use; every read-modify-write runs under one mutex so two
// racing requests can never both slip past the limit.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
}

// New constructs a Limiter, substituting safe defaults for invalid
// configuration values.
func New(cfg Config) *Limiter {
	def := DefaultConfig(cfg.Class)
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	return &Limiter{
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// Check records one request for fingerprint at time now and decides
// whether it may proceed.
//
// State machine per entry:
//   - no entry, or an elapsed window/block: fresh window, count 1, allowed.
//   - blocked and now before resetTime: rejected, no mutation.
//   - within window and count below the limit: increment, allowed.
//   - within window at the limit: flip to blocked, resetTime extends by
//     the block duration, rejected.
//
// An empty fingerprint degrades to "unknown": fingerprinting fails
// open, the limit decision itself fails closed. Stale entries are
// opportunistically purged on every call.
func (l *Limiter) Check(fingerprint string, now time.Time) Decision {
	if fingerprint == "" {
		fingerprint = Unknown
	}

	l.mu.Lock()
	l.purgeLocked(now)

	d := l.checkLocked(fingerprint, now)
	l.mu.Unlock()

	metrics.CountRateLimit(string(l.cfg.Class), d.Allowed)
	return d
}

func (l *Limiter) checkLocked(fingerprint string, now time.Time) Decision {
	e, ok := l.entries[fingerprint]

	windowElapsed := ok && !e.blocked && now.After(e.resetTime)
	blockElapsed := ok && e.blocked && !now.Before(e.resetTime)

	if !ok || windowElapsed || blockElapsed {
		reset := now.Add(l.cfg.Window)
		l.entries[fingerprint] = &entry{count: 1, resetTime: reset}
		return Decision{
			Allowed:   true,
			Remaining: l.cfg.MaxRequests - 1,
			ResetTime: reset,
		}
	}

	if e.blocked {
		return Decision{
			Blocked:    true,
			ResetTime:  e.resetTime,
			RetryAfter: e.resetTime.Sub(now),
		}
	}

	if e.count < l.cfg.MaxRequests {
		e.count++
		return Decision{
			Allowed:   true,
			Remaining: l.cfg.MaxRequests - e.count,
			ResetTime: e.resetTime,
		}
	}

	// The request that would exceed the limit triggers the block.
	e.blocked = true
	e.resetTime = now.Add(l.cfg.BlockDuration)
	return Decision{
		Blocked:    true,
		ResetTime:  e.resetTime,
		RetryAfter: l.cfg.BlockDuration,
	}
}

// Cleanup removes every entry whose window or block period has fully
// elapsed at now, and returns how many were removed. Hosts wire this to
// their own scheduler; it is also safe to call before critical
// operations.
func (l *Limiter) Cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for fp, e := range l.entries {
		if now.After(e.resetTime) {
			delete(l.entries, fp)
			removed++
		}
	}
	return removed
}

// Stats returns entry counts for diagnostics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Stats{TotalEntries: len(l.entries)}
	for _, e := range l.entries {
		if e.blocked {
			st.BlockedEntries++
		}
	}
	return st
}

// purgeLocked is the conservative request-path purge: entries linger
// for one extra block duration past their reset so a released block is
// still observable to diagnostics between requests.
func (l *Limiter) purgeLocked(now time.Time) {
	cut := now.Add(-l.cfg.BlockDuration)
	for fp, e := range l.entries {
		if e.resetTime.Before(cut) {
			delete(l.entries, fp)
		}
	}
}
