package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements Directory over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must not close it.
// Schema identifiers are validated to avoid SQL injection via
// identifiers.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "questguard").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("directory: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("directory: nil db pool")
	}
	d := &PostgresDirectory{pool: pool, schema: "questguard"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// GetUser loads a user row by ID.
func (d *PostgresDirectory) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, ErrNotFound
	}

	var u User
	err := d.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, email, COALESCE(name, ''), is_staff
		FROM %q.users
		WHERE id = $1
	`, d.schema), userID).Scan(&u.ID, &u.Email, &u.Name, &u.Staff)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// IsStaff reports the staff flag for userID; unknown users are not staff.
func (d *PostgresDirectory) IsStaff(ctx context.Context, userID string) (bool, error) {
	u, err := d.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.Staff, nil
}
