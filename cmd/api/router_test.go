package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracking-engine/internal/app"
	"github.com/noah-isme/tracking-engine/internal/auth"
	"github.com/noah-isme/tracking-engine/internal/common"
	"github.com/noah-isme/tracking-engine/internal/config"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":  "",
		"REDIS_URL":     "",
		"REGISTRY_FILE": "",
	})
	require.NoError(t, err)
	deps, err := app.Build(t.Context(), cfg, zerolog.Nop(), app.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })
	return newRouter(deps, routerOptions{AllowHeaderIdent: true, BodyLimit: 512, SecurityHeaders: true})
}

func do(t *testing.T, h http.Handler, method, path, body, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderOrganization, "org-1")
	if role != "" {
		req.Header.Set(auth.HeaderRole, role)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterTrackAfterProviderUpsert(t *testing.T) {
	h := newTestRouter(t)

	rr := do(t, h, http.MethodPost, "/api/v1/track", `{"trackingNumber":"MEDU7905689"}`, "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/v1/admin/providers",
		`{"id":"demo","types":["container"],"adapter":"static","settings":{"status":"in transit"}}`, common.RoleAdmin)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/v1/track", `{"trackingNumber":"MEDU7905689"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Success  bool   `json:"success"`
		Provider string `json:"provider"`
		Status   string `json:"status"`
		Carrier  string `json:"carrier"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, "demo", body.Provider)
	require.Equal(t, "in_transit", body.Status)
	require.Equal(t, "MSC", body.Carrier)

	rr = do(t, h, http.MethodDelete, "/api/v1/admin/cache/MEDU7905689", "", common.RoleAdmin)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRouterAdminRequiresRole(t *testing.T) {
	h := newTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/v1/admin/providers", "", "")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/v1/admin/providers/health", "", common.RoleAdmin)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterAsyncWithoutQueue(t *testing.T) {
	h := newTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/v1/track/batch/async", `{"trackingNumbers":["MEDU7905689"]}`, "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouterHealth(t *testing.T) {
	h := newTestRouter(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/track", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code, "no identity headers")
}

func TestRouterBodyLimitAndHeaders(t *testing.T) {
	h := newTestRouter(t)
	numbers := strings.Repeat(`"MEDU7905689",`, 60)
	rr := do(t, h, http.MethodPost, "/api/v1/track/batch", `{"trackingNumbers":[`+numbers+`"MEDU7905689"]}`, "")
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}
