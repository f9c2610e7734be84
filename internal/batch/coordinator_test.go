package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracking-engine/internal/adapter"
	"github.com/noah-isme/tracking-engine/internal/cache"
	"github.com/noah-isme/tracking-engine/internal/obs"
	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/requestlog"
	"github.com/noah-isme/tracking-engine/internal/shipment"
	"github.com/noah-isme/tracking-engine/internal/tracking"
)

// countingResolver tracks peak concurrency and fails or panics on demand.
type countingResolver struct {
	current atomic.Int32
	peak    atomic.Int32
	fail    map[string]bool
	panicOn string
	delay   time.Duration
}

func (c *countingResolver) Resolve(ctx context.Context, req tracking.Request) tracking.Response {
	n := c.current.Add(1)
	defer c.current.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(c.delay)
	if req.TrackingNumber == c.panicOn {
		panic("adapter bug")
	}
	if c.fail[req.TrackingNumber] {
		return tracking.Response{TrackingNumber: req.TrackingNumber, Error: "all providers failed", Err: tracking.ErrExhausted}
	}
	return tracking.Response{Success: true, TrackingNumber: req.TrackingNumber, Provider: "p1"}
}

func numbers(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("MSCU%07d", i+1)
	}
	return out
}

func TestResolveBatchPartialFailure(t *testing.T) {
	t.Parallel()

	input := numbers(12)
	resolver := &countingResolver{fail: map[string]bool{input[4]: true}, delay: 20 * time.Millisecond}
	metrics := obs.NewTrackingMetrics(prometheus.NewRegistry())
	c := New(resolver, Options{ChunkSize: 10, MaxConcurrency: 3, Metrics: metrics})

	out := c.ResolveBatch(context.Background(), input, tracking.Request{OrganizationID: "org-1"})
	require.Len(t, out, 12)
	for i, r := range out {
		require.Equal(t, input[i], r.TrackingNumber)
		if i == 4 {
			require.False(t, r.Success)
			require.ErrorIs(t, r.Err, tracking.ErrExhausted)
			continue
		}
		require.True(t, r.Success, "item %d", i)
	}
	require.LessOrEqual(t, resolver.peak.Load(), int32(3))
	require.Equal(t, 11.0, testutil.ToFloat64(metrics.BatchItems.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchItems.WithLabelValues("failure")))
}

func TestResolveBatchBoundIsSharedAcrossBatches(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{delay: 10 * time.Millisecond}
	c := New(resolver, Options{ChunkSize: 4, MaxConcurrency: 2})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ResolveBatch(context.Background(), numbers(8), tracking.Request{})
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, resolver.peak.Load(), int32(2))
}

func TestResolveBatchIsolatesPanics(t *testing.T) {
	t.Parallel()

	input := numbers(3)
	c := New(&countingResolver{panicOn: input[1]}, Options{})
	out := c.ResolveBatch(context.Background(), input, tracking.Request{})
	require.True(t, out[0].Success)
	require.False(t, out[1].Success)
	require.Equal(t, "internal error", out[1].Error)
	require.True(t, out[2].Success)
}

func TestResolveBatchCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := New(&countingResolver{}, Options{MaxConcurrency: 1}).ResolveBatch(ctx, numbers(2), tracking.Request{})
	require.Len(t, out, 2)
	for _, r := range out {
		require.False(t, r.Success)
		require.True(t, errors.Is(r.Err, context.Canceled))
	}
}

type adapterSet map[string]adapter.Adapter

func (s adapterSet) Resolve(p registry.Provider) (adapter.Adapter, error) {
	a, ok := s[p.ID]
	if !ok {
		return nil, adapter.ErrNoAdapter
	}
	return a, nil
}

func TestResolveBatchBoundsAdapterCallsThroughOrchestrator(t *testing.T) {
	t.Parallel()

	var current, peak, calls atomic.Int32
	track := adapter.Func(func(ctx context.Context, _ adapter.Request) (adapter.RawResult, error) {
		calls.Add(1)
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-time.After(15 * time.Millisecond):
		case <-ctx.Done():
			return adapter.RawResult{}, ctx.Err()
		}
		return adapter.RawResult{Status: "in transit"}, nil
	})

	reg := registry.New(registry.NewMemoryStore(registry.Provider{
		ID: "api", Name: "api", Types: []shipment.Type{shipment.Container}, Active: true, Adapter: registry.KindStatic,
	}), registry.Options{})
	sink := requestlog.NewMemorySink(100)
	orch := tracking.New(reg, adapterSet{"api": track}, cache.NewMemoryStore(), tracking.Options{
		AttemptTimeout: time.Second,
		Log:            sink,
	})
	c := New(orch, Options{ChunkSize: 4, MaxConcurrency: 3})

	input := numbers(11)
	out := c.ResolveBatch(context.Background(), input, tracking.Request{ForceRefresh: true})
	require.Len(t, out, len(input))
	for i, resp := range out {
		require.True(t, resp.Success, "item %d: %s", i, resp.Error)
		require.Equal(t, input[i], resp.TrackingNumber)
	}
	require.Equal(t, int32(len(input)), calls.Load())
	require.LessOrEqual(t, peak.Load(), int32(3))
	require.Len(t, sink.All(), len(input))
}
