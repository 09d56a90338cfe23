package authkit

import "context"

var sessionCtxKey = &contextKey{"session"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithSnapshot sets the session snapshot in the given context.
func WithSnapshot(ctx context.Context, snapshot SessionSnapshot) context.Context {
	return context.WithValue(ctx, sessionCtxKey, snapshot)
}

// SnapshotFromContext finds the session snapshot in the context.
func SnapshotFromContext(ctx context.Context) (SessionSnapshot, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(SessionSnapshot)
	return raw, ok
}

// WithClaimsContext sets the decoded claims in the given context.
func WithClaimsContext(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// GetClaims extracts the decoded claims from the context.
func GetClaims(ctx context.Context) (*AccessClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*AccessClaims)
	return raw, ok
}

// HasRole is a convenience check against the claims carried in the context.
func HasRole(ctx context.Context, role string) bool {
	claims, ok := GetClaims(ctx)
	if !ok {
		return false
	}
	return claims.HasGlobalRole(role)
}
