// Package session implements questguard's session-fixation defense.
//
// It provides an in-memory registry of active sessions keyed by opaque
// token ID, with capacity-bounded LRU eviction, per-user FIFO caps, and
// inactivity/absolute expiry. On top of the registry sits a token
// rotation service: every successful login invalidates all prior
// sessions for the user before a fresh session ID and token ID are
// issued, so an attacker-planted pre-auth identifier can never become
// valid post-auth.
//
// Credentials are signed JWTs (HS256). The registry is single-process
// in-memory state; horizontal scaling would require a shared store and
// is intentionally out of scope.
package session
