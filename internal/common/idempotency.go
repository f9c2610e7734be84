package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// HeaderIdempotencyKey names the request header Idem reads.
const HeaderIdempotencyKey = "Idempotency-Key"

// CodeIdempotentReplay is returned when a key was already used within the TTL.
const CodeIdempotentReplay = "IDEMPOTENT_REPLAY"

// Idem rejects a second request carrying the same Idempotency-Key within TTL.
// Keys are scoped per organization. A request that does not complete with a
// 2xx releases its key so the caller can retry. Without a Redis client, or
// without the header, requests pass through.
type Idem struct {
	R      redis.UniversalClient
	TTL    time.Duration
	Prefix string
}

func (i Idem) key(ctx context.Context, header string) string {
	sum := sha256.Sum256([]byte(OrganizationID(ctx) + "|" + header))
	prefix := i.Prefix
	if prefix == "" {
		prefix = "tracking:idem:"
	}
	return prefix + hex.EncodeToString(sum[:])
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(HeaderIdempotencyKey)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := i.key(ctx, header)
		ok, err := i.R.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, CodeInternal, "idempotency store unavailable", nil)
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, CodeIdempotentReplay, "duplicate request", map[string]string{"idempotencyKey": header})
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if rec.status < 200 || rec.status >= 300 {
				_ = i.R.Del(context.WithoutCancel(ctx), key).Err()
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
