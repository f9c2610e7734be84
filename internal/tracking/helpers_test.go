package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/tracking-engine/internal/adapter"
	"github.com/noah-isme/tracking-engine/internal/cache"
	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/requestlog"
	"github.com/noah-isme/tracking-engine/internal/shipment"
)

// scriptedAdapter returns a fixed answer and counts calls.
type scriptedAdapter struct {
	calls  atomic.Int32
	result adapter.RawResult
	err    error
	delay  time.Duration
}

func (s *scriptedAdapter) Track(ctx context.Context, _ adapter.Request) (adapter.RawResult, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return adapter.RawResult{}, ctx.Err()
		}
	}
	return s.result, s.err
}

// hangingAdapter blocks until its context ends.
type hangingAdapter struct {
	started chan struct{}
	once    sync.Once
}

func (h *hangingAdapter) Track(ctx context.Context, _ adapter.Request) (adapter.RawResult, error) {
	h.once.Do(func() { close(h.started) })
	<-ctx.Done()
	return adapter.RawResult{}, ctx.Err()
}

type adapterMap map[string]adapter.Adapter

func (m adapterMap) Resolve(p registry.Provider) (adapter.Adapter, error) {
	a, ok := m[p.ID]
	if !ok {
		return nil, adapter.ErrNoAdapter
	}
	return a, nil
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (shipment.Result, bool, error) {
	return shipment.Result{}, false, errors.New("cache down")
}
func (failingCache) Put(context.Context, string, shipment.Result, time.Duration) error {
	return errors.New("cache down")
}
func (failingCache) Invalidate(context.Context, string) error { return errors.New("cache down") }
func (failingCache) Purge(context.Context, string) (int, error) {
	return 0, errors.New("cache down")
}

type brokenSelector struct{}

func (brokenSelector) SelectCandidates(context.Context, shipment.Type, string) ([]registry.Provider, error) {
	return nil, errors.New("db down")
}

func provider(id string, priority int, types ...shipment.Type) registry.Provider {
	if len(types) == 0 {
		types = []shipment.Type{shipment.Container}
	}
	return registry.Provider{ID: id, Name: id, Priority: priority, Types: types, Active: true, Adapter: registry.KindStatic}
}

type fixture struct {
	orch  *Orchestrator
	cache *cache.MemoryStore
	log   *requestlog.MemorySink
}

func newFixture(adapters adapterMap, opts Options, providers ...registry.Provider) fixture {
	reg := registry.New(registry.NewMemoryStore(providers...), registry.Options{RefreshTTL: time.Millisecond})
	store := cache.NewMemoryStore()
	sink := requestlog.NewMemorySink(100)
	if opts.Log == nil {
		opts.Log = sink
	}
	if opts.AttemptTimeout == 0 {
		opts.AttemptTimeout = time.Second
	}
	opts.Logger = zerolog.Nop()
	return fixture{orch: New(reg, adapters, store, opts), cache: store, log: sink}
}

func inTransit() adapter.RawResult {
	return adapter.RawResult{
		Carrier: "MSC",
		Status:  "Departed",
		Origin:  "Shanghai",
		Events: []adapter.RawEvent{
			{Timestamp: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Location: "Shanghai", Description: "Loaded on vessel", Status: "loaded"},
			{Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Location: "Shanghai", Description: "Gate in", Status: "received"},
		},
	}
}
