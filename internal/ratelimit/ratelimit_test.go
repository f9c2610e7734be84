package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracking-engine/internal/common"
	"github.com/noah-isme/tracking-engine/internal/registry"
)

func TestSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := Sliding{Client: client, Prefix: "test:", Window: 2 * time.Second, Max: 2}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := l.Take(ctx, "key")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 2-(i+1), d.Remaining)
	}
	d, err := l.Take(ctx, "key")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
}

func TestRateDisabledAllowsEverything(t *testing.T) {
	store, err := NewStore(nil, "test")
	require.NoError(t, err)
	r, err := NewRate(store, "off")
	require.NoError(t, err)
	require.Nil(t, r)

	d, err := r.Take(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	_, err = NewRate(store, "sixty per minute")
	require.Error(t, err)
}

func TestGatePerProviderOverride(t *testing.T) {
	store, err := NewStore(nil, "gate")
	require.NoError(t, err)
	g, err := NewGate(store, "2-M")
	require.NoError(t, err)

	ctx := context.Background()
	shipsgo := registry.Provider{ID: "shipsgo"}
	for i := 0; i < 2; i++ {
		d, err := g.Allow(ctx, shipsgo)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := g.Allow(ctx, shipsgo)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// other providers have their own bucket
	d, err = g.Allow(ctx, registry.Provider{ID: "msc"})
	require.NoError(t, err)
	require.True(t, d.Allowed)

	unlimited := registry.Provider{ID: "static", Settings: map[string]string{SettingRateLimit: "off"}}
	for i := 0; i < 5; i++ {
		d, err = g.Allow(ctx, unlimited)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}

func TestGateRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewStore(client, "tracking-limiter")
	require.NoError(t, err)
	g, err := NewGate(store, "1-H")
	require.NoError(t, err)

	d, err := g.Allow(context.Background(), registry.Provider{ID: "maersk"})
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = g.Allow(context.Background(), registry.Provider{ID: "maersk"})
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestNewGateRejectsBadDefault(t *testing.T) {
	store, err := NewStore(nil, "bad")
	require.NoError(t, err)
	_, err = NewGate(store, "lots")
	require.Error(t, err)
}

func TestMiddlewareKeysByOrganization(t *testing.T) {
	store, err := NewStore(nil, "api")
	require.NoError(t, err)
	rate, err := NewRate(store, "1-M")
	require.NoError(t, err)

	h := Handler{Limiter: rate, Key: OrganizationKey}
	next := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(org string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/track", nil)
		req = req.WithContext(common.WithPrincipal(req.Context(), common.Principal{OrganizationID: org}))
		rr := httptest.NewRecorder()
		next.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusOK, call("org-a").Code)
	rr := call("org-a")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
	require.Contains(t, rr.Body.String(), "RATE_LIMITED")

	require.Equal(t, http.StatusOK, call("org-b").Code)
}

type brokenTaker struct{}

func (brokenTaker) Take(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestMiddlewareOnErrorLetsRequestThrough(t *testing.T) {
	var seen error
	h := Handler{
		Limiter: brokenTaker{},
		Key:     func(*http.Request) string { return "k" },
		OnError: func(err error) { seen = err },
	}
	next := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	next.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Error(t, seen)
}
