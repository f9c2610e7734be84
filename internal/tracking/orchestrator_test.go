package tracking

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracking-engine/internal/adapter"
	"github.com/noah-isme/tracking-engine/internal/ratelimit"
	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/requestlog"
	"github.com/noah-isme/tracking-engine/internal/resilience"
	"github.com/noah-isme/tracking-engine/internal/shipment"
	"github.com/noah-isme/tracking-engine/internal/status"
)

const containerNumber = "MEDU7905689"

func TestResolveServesSecondCallFromCache(t *testing.T) {
	t.Parallel()

	a := &scriptedAdapter{result: inTransit()}
	f := newFixture(adapterMap{"p1": a}, Options{}, provider("p1", 0))

	first := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.True(t, first.Success)
	require.False(t, first.Cached)

	second := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.True(t, second.Success)
	require.True(t, second.Cached)
	require.Equal(t, int32(1), a.calls.Load())
	require.Len(t, f.log.All(), 1, "cache hits write no log entries")

	forced := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber, ForceRefresh: true})
	require.False(t, forced.Cached)
	require.Equal(t, int32(2), a.calls.Load())
}

func TestResolveFallsBackInPriorityOrder(t *testing.T) {
	t.Parallel()

	p1 := &scriptedAdapter{err: errors.New("upstream 500")}
	p2 := &scriptedAdapter{result: inTransit()}
	p3 := &scriptedAdapter{result: inTransit()}
	f := newFixture(adapterMap{"p1": p1, "p2": p2, "p3": p3}, Options{},
		provider("p3", 2), provider("p1", 0), provider("p2", 1))

	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.True(t, resp.Success)
	require.True(t, resp.FallbackUsed)
	require.Equal(t, "p2", resp.Provider)
	require.Equal(t, []string{"p1", "p2"}, resp.AttemptedProviders)
	require.Zero(t, p3.calls.Load())

	entries := f.log.ForNumber(containerNumber)
	require.Len(t, entries, 2)
	require.Equal(t, "p1", entries[0].ProviderID)
	require.False(t, entries[0].Success)
	require.Equal(t, string(adapter.KindUnknown), entries[0].ErrorClass)
	require.Equal(t, 1, entries[0].Attempt)
	require.Equal(t, "p2", entries[1].ProviderID)
	require.True(t, entries[1].Success)
	require.Equal(t, 2, entries[1].Attempt)
}

func TestResolveTimeoutFallsBackToScraper(t *testing.T) {
	t.Parallel()

	shipsgo := &hangingAdapter{started: make(chan struct{})}
	scraper := &scriptedAdapter{result: adapter.RawResult{Status: "Discharged"}}
	f := newFixture(adapterMap{"ShipsGoAPI": shipsgo, "MSCScraper": scraper},
		Options{AttemptTimeout: 50 * time.Millisecond},
		provider("ShipsGoAPI", 0), provider("MSCScraper", 1))

	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.True(t, resp.Success)
	require.Equal(t, "MSCScraper", resp.Provider)
	require.True(t, resp.FallbackUsed)
	require.Equal(t, "MSC", resp.Carrier, "carrier is detected from the owner code")
	require.Equal(t, status.Arrived, resp.Status)

	entries := f.log.ForNumber(containerNumber)
	require.Len(t, entries, 2)
	require.Equal(t, string(adapter.KindTimeout), entries[0].ErrorClass)
	require.GreaterOrEqual(t, entries[0].Latency, 50*time.Millisecond)
	require.True(t, entries[1].Success)
}

func TestResolveAbandonsAdapterThatIgnoresDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	slow := adapter.Func(func(context.Context, adapter.Request) (adapter.RawResult, error) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		return adapter.RawResult{Status: "delivered"}, nil
	})
	fast := &scriptedAdapter{result: inTransit()}
	f := newFixture(adapterMap{"slow": slow, "fast": fast},
		Options{AttemptTimeout: 50 * time.Millisecond},
		provider("slow", 0), provider("fast", 1))

	start := time.Now()
	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber, ForceRefresh: true})
	require.Less(t, time.Since(start), time.Second)
	require.True(t, resp.Success)
	require.Equal(t, "fast", resp.Provider)
	require.True(t, resp.FallbackUsed)
	require.Equal(t, status.InTransit, resp.Status)

	entries := f.log.ForNumber(containerNumber)
	require.Len(t, entries, 2)
	require.Equal(t, "slow", entries[0].ProviderID)
	require.Equal(t, string(adapter.KindTimeout), entries[0].ErrorClass)
}

func TestResolveDiscardsAnswerAfterDeadline(t *testing.T) {
	t.Parallel()

	late := adapter.Func(func(ctx context.Context, _ adapter.Request) (adapter.RawResult, error) {
		<-ctx.Done()
		return adapter.RawResult{Status: "delivered"}, nil
	})
	fast := &scriptedAdapter{result: inTransit()}
	f := newFixture(adapterMap{"late": late, "fast": fast},
		Options{AttemptTimeout: 30 * time.Millisecond},
		provider("late", 0), provider("fast", 1))

	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.True(t, resp.Success)
	require.Equal(t, "fast", resp.Provider)
	require.Equal(t, string(adapter.KindTimeout), f.log.ForNumber(containerNumber)[0].ErrorClass)
}

func TestResolveTurnsAdapterPanicIntoFailure(t *testing.T) {
	t.Parallel()

	broken := adapter.Func(func(context.Context, adapter.Request) (adapter.RawResult, error) {
		panic("nil settings")
	})
	fast := &scriptedAdapter{result: inTransit()}
	f := newFixture(adapterMap{"broken": broken, "fast": fast}, Options{},
		provider("broken", 0), provider("fast", 1))

	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.True(t, resp.Success)
	require.Equal(t, "fast", resp.Provider)
	require.Equal(t, string(adapter.KindUnknown), f.log.ForNumber(containerNumber)[0].ErrorClass)
}

func TestResolveNoCandidates(t *testing.T) {
	t.Parallel()

	a := &scriptedAdapter{result: inTransit()}
	f := newFixture(adapterMap{"ups": a}, Options{}, provider("ups", 0, shipment.Parcel))

	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.False(t, resp.Success)
	require.ErrorIs(t, resp.Err, ErrNoCandidates)
	require.Contains(t, resp.Error, "container")
	require.Equal(t, http.StatusUnprocessableEntity, StatusCode(resp))
	require.Empty(t, f.log.All())
	require.Zero(t, a.calls.Load())
}

func TestResolveExhaustionIsNotCached(t *testing.T) {
	t.Parallel()

	p1 := &scriptedAdapter{err: adapter.NotFound(errors.New("unknown container"))}
	p2 := &scriptedAdapter{err: adapter.RateLimited(errors.New("429"))}
	f := newFixture(adapterMap{"p1": p1, "p2": p2}, Options{}, provider("p1", 0), provider("p2", 1))

	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.False(t, resp.Success)
	require.ErrorIs(t, resp.Err, ErrExhausted)
	require.Equal(t, []string{"p1", "p2"}, resp.AttemptedProviders)
	require.Contains(t, resp.Error, "429")
	require.Equal(t, http.StatusBadGateway, StatusCode(resp))
	require.Zero(t, f.cache.Len())

	entries := f.log.All()
	require.Equal(t, string(adapter.KindNotFound), entries[0].ErrorClass)
	require.Equal(t, string(adapter.KindRateLimited), entries[1].ErrorClass)

	f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.Equal(t, int32(2), p1.calls.Load(), "a failed result must not be sticky")
}

func TestResolveCancellationStopsAttempts(t *testing.T) {
	t.Parallel()

	hang := &hangingAdapter{started: make(chan struct{})}
	next := &scriptedAdapter{result: inTransit()}
	f := newFixture(adapterMap{"p1": hang, "p2": next}, Options{AttemptTimeout: time.Minute},
		provider("p1", 0), provider("p2", 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Response, 1)
	go func() { done <- f.orch.Resolve(ctx, Request{TrackingNumber: containerNumber}) }()

	<-hang.started
	cancel()

	select {
	case resp := <-done:
		require.False(t, resp.Success)
		require.ErrorIs(t, resp.Err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("resolve did not return after cancellation")
	}
	require.Zero(t, next.calls.Load())
	require.Eventually(t, func() bool { return len(f.log.All()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, requestlog.ClassCancelled, f.log.All()[0].ErrorClass)
}

func TestResolveIsolatesCacheFailures(t *testing.T) {
	t.Parallel()

	a := &scriptedAdapter{result: inTransit()}
	reg := registry.New(registry.NewMemoryStore(provider("p1", 0)), registry.Options{})
	orch := New(reg, adapterMap{"p1": a}, failingCache{}, Options{Logger: zerolog.Nop()})

	resp := orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.True(t, resp.Success)
	require.NotNil(t, resp.CacheUntil)
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	a := &scriptedAdapter{result: inTransit()}
	f := newFixture(adapterMap{"p1": a}, Options{}, provider("p1", 0))

	for _, raw := range []string{"", "  ", "AB", "MEDU-79056!89"} {
		resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: raw})
		require.False(t, resp.Success, raw)
		require.ErrorIs(t, resp.Err, shipment.ErrInvalidTrackingNumber)
		require.Equal(t, http.StatusBadRequest, StatusCode(resp))
	}
	require.Zero(t, a.calls.Load())
}

func TestResolveRegistryOutage(t *testing.T) {
	t.Parallel()

	orch := New(brokenSelector{}, adapterMap{}, nil, Options{Logger: zerolog.Nop()})
	resp := orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.ErrorIs(t, resp.Err, ErrRegistry)
	require.Equal(t, http.StatusServiceUnavailable, StatusCode(resp))
}

func TestResolveTTLPolicy(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	active := &scriptedAdapter{result: inTransit()}
	delivered := &scriptedAdapter{result: adapter.RawResult{Status: "POD"}}
	f := newFixture(adapterMap{"active": active, "done": delivered},
		Options{ActiveTTL: 10 * time.Minute, TerminalTTL: 0, Now: func() time.Time { return now }},
		provider("active", 0, shipment.Container), provider("done", 0, shipment.AWB))

	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.True(t, resp.Success)
	require.Equal(t, now.Add(10*time.Minute), *resp.CacheUntil)

	resp = f.orch.Resolve(context.Background(), Request{TrackingNumber: "176-12345675"})
	require.True(t, resp.Success)
	require.Equal(t, status.Delivered, resp.Status)
	require.Nil(t, resp.CacheUntil, "terminal results are kept until invalidated")
	require.Equal(t, "Emirates SkyCargo", resp.Carrier)
}

func TestResolveNormalisesAndOrdersEvents(t *testing.T) {
	t.Parallel()

	eta := time.Now().Add(-48 * time.Hour)
	raw := inTransit()
	raw.ETA = &eta
	f := newFixture(adapterMap{"p1": &scriptedAdapter{result: raw}}, Options{}, provider("p1", 0))

	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: " medu 790 5689 "})
	require.True(t, resp.Success)
	require.Equal(t, containerNumber, resp.TrackingNumber)
	require.Equal(t, status.InTransit, resp.Status)
	require.Equal(t, "Departed", resp.RawStatus)
	require.Equal(t, status.InTransit.Label(), resp.StatusLabel)
	require.True(t, resp.Delayed, "past ETA on an active shipment")
	require.Len(t, resp.Events, 2)
	require.True(t, resp.Events[0].Timestamp.Before(resp.Events[1].Timestamp))
	require.Equal(t, "Gate in", resp.Events[0].Description)
}

func TestResolveSkipsOpenCircuit(t *testing.T) {
	t.Parallel()

	flaky := &scriptedAdapter{err: errors.New("boom")}
	backup := &scriptedAdapter{result: inTransit()}
	breakers := resilience.NewBreakers(resilience.Settings{MinRequests: 1, FailureRatio: 0.5, OpenFor: time.Hour}, zerolog.Nop())
	f := newFixture(adapterMap{"flaky": flaky, "backup": backup}, Options{Breakers: breakers},
		provider("flaky", 0), provider("backup", 1))

	f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber, ForceRefresh: true})
	require.Equal(t, resilience.Open, breakers.For("flaky").State())

	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber, ForceRefresh: true})
	require.True(t, resp.Success)
	require.Equal(t, "backup", resp.Provider)
	require.Equal(t, int32(1), flaky.calls.Load())

	entries := f.log.All()
	require.Len(t, entries, 4)
	require.True(t, entries[2].Skipped)
	require.Equal(t, requestlog.ClassCircuitOpen, entries[2].ErrorClass)
}

type denyGate struct{ deny string }

func (g denyGate) Allow(_ context.Context, p registry.Provider) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: p.ID != g.deny}, nil
}

func TestResolveSkipsRateLimitedProvider(t *testing.T) {
	t.Parallel()

	paid := &scriptedAdapter{result: inTransit()}
	free := &scriptedAdapter{result: inTransit()}
	f := newFixture(adapterMap{"paid": paid, "free": free}, Options{Limiter: denyGate{deny: "paid"}},
		provider("paid", 0), provider("free", 1))

	resp := f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	require.True(t, resp.Success)
	require.Equal(t, "free", resp.Provider)
	require.Zero(t, paid.calls.Load())
	entries := f.log.All()
	require.True(t, entries[0].Skipped)
	require.Equal(t, requestlog.ClassRateLimited, entries[0].ErrorClass)
}

func TestResolveCoalescesConcurrentRequests(t *testing.T) {
	t.Parallel()

	slow := &scriptedAdapter{result: inTransit(), delay: 100 * time.Millisecond}
	f := newFixture(adapterMap{"p1": slow}, Options{}, provider("p1", 0))

	var wg sync.WaitGroup
	responses := make([]Response, 5)
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber, OrganizationID: "org-1"})
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), slow.calls.Load())
	for _, r := range responses {
		require.True(t, r.Success)
	}
	responses[0].Events[0].Location = "mutated"
	require.NotEqual(t, "mutated", responses[1].Events[0].Location)
}

func TestInvalidatePurgesEveryCarrierSlot(t *testing.T) {
	t.Parallel()

	a := &scriptedAdapter{result: inTransit()}
	f := newFixture(adapterMap{"p1": a}, Options{}, provider("p1", 0))

	f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber})
	f.orch.Resolve(context.Background(), Request{TrackingNumber: containerNumber, CarrierHint: "msc"})
	require.Equal(t, 2, f.cache.Len())

	n, err := f.orch.Invalidate(context.Background(), containerNumber)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = f.orch.Invalidate(context.Background(), "!")
	require.ErrorIs(t, err, shipment.ErrInvalidTrackingNumber)
}
