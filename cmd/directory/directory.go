// Package directory resolves user attributes from the external user
// store. The session core treats its answers as authoritative and does
// not cache them across requests.
package directory

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no user matches the lookup key.
	ErrNotFound = errors.New("directory: user not found")
)

// User is the subset of the user record the session core needs.
type User struct {
	ID    string
	Email string
	Name  string
	Staff bool
}

// Directory is the authorization-store boundary: "is this user staff"
// is delegated here and never decided from credential claims alone.
type Directory interface {
	// GetUser loads a user by ID.
	GetUser(ctx context.Context, userID string) (User, error)

	// IsStaff reports whether userID has the staff/admin flag. Unknown
	// users are not staff.
	IsStaff(ctx context.Context, userID string) (bool, error)
}
