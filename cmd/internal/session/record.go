package session

import "time"

// Record is one live session as tracked by the Registry.
//
// TokenID is the registry lookup key and is bound to the current issued
// credential; SessionID identifies the logical session and may be
// rotated in place during long-lived sessions without reissuing the
// token. The IP and UserAgent captured at creation are used for anomaly
// checks on subsequent requests.
type Record struct {
	SessionID  string
	TokenID    string
	UserID     string
	Email      string
	IP         string
	UserAgent  string
	CreatedAt  time.Time
	LastAccess time.Time
}

// expired reports whether the record exceeded its absolute age limit.
func (r Record) expired(now time.Time, maxAge time.Duration) bool {
	return now.Sub(r.CreatedAt) > maxAge
}

// inactive reports whether the record idled past the inactivity timeout.
func (r Record) inactive(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.LastAccess) > timeout
}
