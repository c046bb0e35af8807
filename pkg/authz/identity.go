package authz

import (
	"context"
)

// principalCtxKey is an unexported type used as the context key for the
// authenticated principal.
type principalCtxKey struct{}

// WithPrincipal returns a new context with the given principal attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext retrieves the principal established by Middleware.
// Returns nil and false if no principal is set.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*Principal)
	return p, ok
}
