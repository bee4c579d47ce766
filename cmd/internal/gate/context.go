package gate

import (
	"context"

	"tokyoquest/cmd/internal/session"
)

type contextKey struct{}

// WithClaims returns a context carrying the resolved session claims.
func WithClaims(ctx context.Context, c session.Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// ClaimsFrom extracts the resolved session claims placed by Protect.
func ClaimsFrom(ctx context.Context) (session.Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(session.Claims)
	return c, ok
}
