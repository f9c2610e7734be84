// Package auth authenticates API callers from bearer JWTs and derives the
// organization and role they act under.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/tracking-engine/internal/common"
)

// Headers accepted in place of a token when header identity is allowed.
const (
	HeaderOrganization = "X-Organization-ID"
	HeaderRole         = "X-Role"
)

var errNoToken = errors.New("auth: token missing")

// Middleware wires caller identity into HTTP handlers.
type Middleware struct {
	Tokens *Tokens
	// AllowHeaderIdentity accepts X-Organization-ID and X-Role when no token
	// is sent. Never enabled in production.
	AllowHeaderIdentity bool
}

// Authenticate attaches the principal when a valid token is present and
// passes anonymous requests through unchanged.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects requests without a valid identity.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			if !common.IsAppError(err) {
				err = common.NewAppError(common.CodeUnauthorized, "missing or invalid token", http.StatusUnauthorized, err)
			}
			common.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole allows only principals carrying role. It must run after
// RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := common.PrincipalFrom(r.Context())
			if !ok || p.Role != role {
				common.JSONError(w, http.StatusForbidden, common.CodeForbidden, "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) authenticateRequest(r *http.Request) (context.Context, error) {
	token := extractToken(r)
	if token == "" {
		if m.AllowHeaderIdentity {
			if p, ok := headerPrincipal(r); ok {
				return withPrincipal(r.Context(), p), nil
			}
		}
		return r.Context(), errNoToken
	}
	if m.Tokens == nil {
		return r.Context(), errors.New("auth: tokens not configured")
	}
	p, err := m.Tokens.Parse(token)
	if err != nil {
		return r.Context(), err
	}
	return withPrincipal(r.Context(), p), nil
}

// withPrincipal stores p and tags the request span and request log line,
// both of which are owned by middleware running before authentication.
func withPrincipal(ctx context.Context, p common.Principal) context.Context {
	if p.OrganizationID != "" {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("tracking.org_id", p.OrganizationID))
	}
	zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		if p.OrganizationID != "" {
			c = c.Str("org_id", p.OrganizationID)
		}
		return c.Str("user_id", p.Subject)
	})
	return common.WithPrincipal(ctx, p)
}

func headerPrincipal(r *http.Request) (common.Principal, bool) {
	org := strings.TrimSpace(r.Header.Get(HeaderOrganization))
	role := strings.TrimSpace(r.Header.Get(HeaderRole))
	if org == "" && role == "" {
		return common.Principal{}, false
	}
	return common.Principal{Subject: "header", OrganizationID: org, Role: role}, true
}

func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
