package security

import (
	"net/http"
	"strconv"
)

// Headers sets response hardening headers. Tracking responses carry
// organization-scoped data, so they are never cached by intermediaries.
type Headers struct {
	Disable    bool
	HSTSMaxAge int
}

func (h Headers) Middleware(next http.Handler) http.Handler {
	if h.Disable {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Cache-Control", "no-store")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			maxAge := h.HSTSMaxAge
			if maxAge <= 0 {
				maxAge = 31536000
			}
			headers.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(maxAge)+"; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
