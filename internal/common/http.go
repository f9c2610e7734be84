package common

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// ClientIP returns the caller address. The router runs chi's RealIP
// middleware first, so RemoteAddr already reflects X-Forwarded-For and
// X-Real-IP from the trusted proxy.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// QueryInt reads an integer query parameter. Missing or unparsable values
// yield def; parsed values are clamped to [min, max].
func QueryInt(r *http.Request, name string, def, min, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
