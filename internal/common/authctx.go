package common

import "context"

type ctxKey string

const principalKey ctxKey = "auth/principal"

// RoleAdmin may manage providers and purge cache entries.
const RoleAdmin = "admin"

// Principal is the caller identity attached by the auth middleware.
type Principal struct {
	Subject        string `json:"sub,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	Role           string `json:"role,omitempty"`
}

// WithPrincipal stores the authenticated caller on the provided context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the caller from the context if present.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// OrganizationID returns the caller's organization or "".
func OrganizationID(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.OrganizationID
}

// IsAdmin reports whether the caller carries the admin role.
func IsAdmin(ctx context.Context) bool {
	p, _ := PrincipalFrom(ctx)
	return p.Role == RoleAdmin
}
