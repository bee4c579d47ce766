package session

// Reason is the closed set of invalidation causes.
//
// The audit sink and tests match exhaustively on these values, so new
// reasons must be added here rather than passed as free-form strings.
type Reason string

const (
	// ReasonNewLogin invalidates prior sessions when the same user
	// authenticates again (fixation defense).
	ReasonNewLogin Reason = "new_login"
	// ReasonUserLogout is an explicit user-initiated logout.
	ReasonUserLogout Reason = "user_logout"
	// ReasonExpired marks a session past its absolute age limit.
	ReasonExpired Reason = "expired"
	// ReasonInactive marks a session idle beyond the inactivity timeout.
	ReasonInactive Reason = "inactive"
	// ReasonIPMismatch marks a session presented from a different IP
	// than the one bound at creation.
	ReasonIPMismatch Reason = "ip_mismatch"
	// ReasonCapacityEvicted marks a session removed by global LRU
	// eviction when the registry is at capacity.
	ReasonCapacityEvicted Reason = "capacity_evicted"
	// ReasonUserLimitEvicted marks the oldest session removed when a
	// user exceeds the per-user concurrent session cap.
	ReasonUserLimitEvicted Reason = "user_limit_evicted"
	// ReasonAdminRevoked is a staff-initiated revocation.
	ReasonAdminRevoked Reason = "admin_revoked"
)

// Valid reports whether r is a known invalidation reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonNewLogin, ReasonUserLogout, ReasonExpired, ReasonInactive,
		ReasonIPMismatch, ReasonCapacityEvicted, ReasonUserLimitEvicted,
		ReasonAdminRevoked:
		return true
	default:
		return false
	}
}
