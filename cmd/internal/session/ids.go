package session

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a new ULID used as session id (26 chars).
// ULIDs are lexicographically sortable, which keeps audit trails readable.
func NewSessionID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewTokenID returns an opaque random token id.
//
// Token IDs are the registry lookup key and must carry at least 128 bits
// of entropy. They are URL-safe so they can travel inside JWT claims and
// cookies without escaping.
func NewTokenID(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
