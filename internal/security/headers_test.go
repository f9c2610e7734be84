package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func TestHeadersSet(t *testing.T) {
	rr := httptest.NewRecorder()
	Headers{}.Middleware(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/track", nil))

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"), "no HSTS over plain http")
}

func TestHeadersHSTSOverTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://example.com", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	Headers{HSTSMaxAge: 600}.Middleware(ok).ServeHTTP(rr, req)
	require.Equal(t, "max-age=600; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))

	req = httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rr = httptest.NewRecorder()
	Headers{}.Middleware(ok).ServeHTTP(rr, req)
	require.Equal(t, "max-age=31536000; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))
}

func TestHeadersDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	Headers{Disable: true}.Middleware(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, rr.Header().Get("X-Content-Type-Options"))
}
