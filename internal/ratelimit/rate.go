// Package ratelimit gates API requests per organization and provider
// attempts per provider.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/tracking-engine/internal/registry"
)

// SettingRateLimit lets a provider override the default attempt rate.
// "off" disables limiting for that provider.
const SettingRateLimit = "rate_limit"

// Decision is the outcome of a single limiter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Taker consumes one unit for key.
type Taker interface {
	Take(ctx context.Context, key string) (Decision, error)
}

// NewStore returns a Redis-backed store when client is non-nil and an
// in-process store otherwise.
func NewStore(client redis.UniversalClient, prefix string) (limiter.Store, error) {
	opts := limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute}
	if client == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	return limiterredis.NewStoreWithOptions(client, opts)
}

// Rate is a fixed window limiter in the "<limit>-<period>" format, for
// example "60-M".
type Rate struct {
	lim *limiter.Limiter
}

// NewRate parses formatted. An empty or "off" rate returns nil, which allows
// everything.
func NewRate(store limiter.Store, formatted string) (*Rate, error) {
	formatted = strings.TrimSpace(formatted)
	if disabled(formatted) {
		return nil, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}
	return &Rate{lim: limiter.New(store, rate)}, nil
}

func (r *Rate) Take(ctx context.Context, key string) (Decision, error) {
	if r == nil {
		return Decision{Allowed: true}, nil
	}
	lc, err := r.lim.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !lc.Reached,
		Limit:     int(lc.Limit),
		Remaining: int(lc.Remaining),
		Reset:     time.Unix(lc.Reset, 0),
	}, nil
}

func disabled(formatted string) bool {
	switch strings.ToLower(formatted) {
	case "", "off", "none", "0":
		return true
	}
	return false
}

// Gate limits attempts per provider. Providers may carry their own rate in
// Settings; everything else shares the default rate.
type Gate struct {
	store limiter.Store
	def   string

	mu    sync.Mutex
	rates map[string]*Rate
}

// NewGate validates the default rate up front.
func NewGate(store limiter.Store, defaultRate string) (*Gate, error) {
	g := &Gate{store: store, def: defaultRate, rates: make(map[string]*Rate)}
	if _, err := g.rate(defaultRate); err != nil {
		return nil, err
	}
	return g, nil
}

// Allow consumes one attempt for p. A malformed provider override falls back
// to the default rate.
func (g *Gate) Allow(ctx context.Context, p registry.Provider) (Decision, error) {
	formatted := g.def
	if override, ok := p.Settings[SettingRateLimit]; ok {
		formatted = override
	}
	r, err := g.rate(formatted)
	if err != nil {
		r, _ = g.rate(g.def)
	}
	return r.Take(ctx, "provider:"+p.ID)
}

func (g *Gate) rate(formatted string) (*Rate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rates[formatted]; ok {
		return r, nil
	}
	r, err := NewRate(g.store, formatted)
	if err != nil {
		return nil, err
	}
	g.rates[formatted] = r
	return r, nil
}
