package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracking-engine/internal/common"
)

func principalEcho(t *testing.T, got *common.Principal) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, _ = common.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", "tracking", "api")
	raw, err := tokens.Issue(common.Principal{Subject: "u1", OrganizationID: "org-1", Role: common.RoleAdmin}, time.Minute)
	require.NoError(t, err)

	p, err := tokens.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, common.Principal{Subject: "u1", OrganizationID: "org-1", Role: common.RoleAdmin}, p)

	_, err = NewTokens("other", "tracking", "api").Parse(raw)
	require.Error(t, err)
	require.True(t, common.IsAppError(err))
}

func TestTokensRejectExpired(t *testing.T) {
	tokens := NewTokens("secret", "", "")
	tokens.Now = func() time.Time { return time.Now().Add(-time.Hour) }
	raw, err := tokens.Issue(common.Principal{Subject: "u1"}, time.Minute)
	require.NoError(t, err)

	tokens.Now = nil
	_, err = tokens.Parse(raw)
	require.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	tokens := NewTokens("secret", "", "")
	raw, err := tokens.Issue(common.Principal{Subject: "u1", OrganizationID: "org-9"}, time.Minute)
	require.NoError(t, err)

	var got common.Principal
	h := Middleware{Tokens: tokens}.RequireAuth(principalEcho(t, &got))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/track", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/track", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "org-9", got.OrganizationID)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/track", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHeaderIdentityOnlyWhenAllowed(t *testing.T) {
	var got common.Principal
	req := httptest.NewRequest(http.MethodPost, "/api/v1/track", nil)
	req.Header.Set(HeaderOrganization, "org-dev")

	rr := httptest.NewRecorder()
	Middleware{}.RequireAuth(principalEcho(t, &got)).ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	Middleware{AllowHeaderIdentity: true}.RequireAuth(principalEcho(t, &got)).ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "org-dev", got.OrganizationID)
}

func TestRequireRole(t *testing.T) {
	var got common.Principal
	h := Middleware{AllowHeaderIdentity: true}.RequireAuth(RequireRole(common.RoleAdmin)(principalEcho(t, &got)))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/cache/X", nil)
	req.Header.Set(HeaderOrganization, "org-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	req.Header.Set(HeaderRole, common.RoleAdmin)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAuthenticatePassesAnonymous(t *testing.T) {
	var got common.Principal
	rr := httptest.NewRecorder()
	Middleware{}.Authenticate(principalEcho(t, &got)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, got.Subject)
}
