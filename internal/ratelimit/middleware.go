package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/tracking-engine/internal/common"
)

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter Taker
	Key     func(*http.Request) string
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface. Limiter
// errors let the request through.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Key == nil || h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := h.Limiter.Take(r.Context(), h.Key(r))
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		if d.Limit > 0 {
			headers := w.Header()
			headers.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			headers.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		}

		if !d.Allowed {
			retryAfter := int(time.Until(d.Reset).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, common.CodeRateLimited, "rate limit exceeded", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// OrganizationKey keys requests by organization, falling back to client IP.
func OrganizationKey(r *http.Request) string {
	if org := common.OrganizationID(r.Context()); org != "" {
		return "org:" + org
	}
	return "ip:" + common.ClientIP(r)
}
