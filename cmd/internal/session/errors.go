package session

import "errors"

var (
	// ErrInvalidTokenStructure is returned when a credential is missing a
	// required claim (token id, session id, or user id) or fails
	// signature verification. Structural failures are never partially
	// trusted.
	ErrInvalidTokenStructure = errors.New("invalid token structure")

	// ErrTokenExpired is returned when a credential is past its expiry.
	// The backing registry entry is removed as a side effect.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionInactive is returned when a session idled beyond the
	// inactivity timeout during a refresh. The session is fully
	// invalidated, never warned-and-continued.
	ErrSessionInactive = errors.New("session expired due to inactivity")

	// ErrIPMismatch is returned when a credential is presented from an
	// IP different from the one bound at session creation.
	ErrIPMismatch = errors.New("session ip mismatch")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
