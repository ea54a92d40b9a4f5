package auth

import "context"

type contextKey struct{}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	TenantID string
	Role     Role
	Subject  string
}

// WithIdentity stores the caller identity in context.
func WithIdentity(ctx context.Context, tenantID string, role Role, subject string) context.Context {
	return context.WithValue(ctx, contextKey{}, Identity{
		TenantID: tenantID,
		Role:     role,
		Subject:  subject,
	})
}

// IdentityFromContext returns the caller identity, zero when absent.
func IdentityFromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Identity{}
	}
	identity, _ := ctx.Value(contextKey{}).(Identity)
	return identity
}

// TenantIDFromContext extracts the tenant id from context.
func TenantIDFromContext(ctx context.Context) string {
	return IdentityFromContext(ctx).TenantID
}

// RoleFromContext extracts the caller role from context.
func RoleFromContext(ctx context.Context) Role {
	return IdentityFromContext(ctx).Role
}

// SubjectFromContext extracts the caller subject from context.
func SubjectFromContext(ctx context.Context) string {
	return IdentityFromContext(ctx).Subject
}
