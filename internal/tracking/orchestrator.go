// Package tracking resolves tracking numbers against an ordered list of
// providers, falling back sequentially and caching successful results.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/tracking-engine/internal/adapter"
	"github.com/noah-isme/tracking-engine/internal/cache"
	"github.com/noah-isme/tracking-engine/internal/obs"
	"github.com/noah-isme/tracking-engine/internal/ratelimit"
	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/requestlog"
	"github.com/noah-isme/tracking-engine/internal/resilience"
	"github.com/noah-isme/tracking-engine/internal/shipment"
	"github.com/noah-isme/tracking-engine/internal/status"
)

var (
	// ErrNoCandidates means no active provider supports the tracking type.
	ErrNoCandidates = errors.New("tracking: no provider supports this tracking type")
	// ErrExhausted means every candidate was tried and none succeeded.
	ErrExhausted = errors.New("tracking: all providers failed")
	// ErrRegistry means the candidate list could not be loaded.
	ErrRegistry = errors.New("tracking: provider registry unavailable")

	errCallerDeadline = errors.New("tracking: caller deadline exceeded")
)

// Selector returns the ordered candidates for a tracking type.
type Selector interface {
	SelectCandidates(ctx context.Context, t shipment.Type, organizationID string) ([]registry.Provider, error)
}

// Gate consumes one unit of a provider's attempt budget.
type Gate interface {
	Allow(ctx context.Context, p registry.Provider) (ratelimit.Decision, error)
}

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	AttemptTimeout time.Duration
	ActiveTTL      time.Duration
	// TerminalTTL applies to delivered or cancelled results. Zero keeps them
	// until invalidated.
	TerminalTTL time.Duration

	Normalizer *status.Normalizer
	Breakers   *resilience.Breakers
	Limiter    Gate
	Log        requestlog.Appender
	Metrics    *obs.TrackingMetrics
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	selector Selector
	adapters adapter.Resolver
	cache    cache.Store
	opts     Options

	flights  singleflight.Group
	tracer   trace.Tracer
	attempts metric.Int64Counter
}

// New wires an orchestrator. store may be nil to disable caching.
func New(selector Selector, adapters adapter.Resolver, store cache.Store, opts Options) *Orchestrator {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 20 * time.Second
	}
	if opts.ActiveTTL <= 0 {
		opts.ActiveTTL = 30 * time.Minute
	}
	if opts.TerminalTTL < 0 {
		opts.TerminalTTL = 0
	}
	if opts.Normalizer == nil {
		opts.Normalizer = status.NewNormalizer(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	counter, err := otel.Meter("tracking-engine/tracking").Int64Counter("tracking.attempts",
		metric.WithDescription("Provider attempts made while resolving tracking numbers."))
	if err != nil {
		opts.Logger.Warn().Err(err).Msg("otel attempts counter unavailable")
	}
	return &Orchestrator{
		selector: selector,
		adapters: adapters,
		cache:    store,
		opts:     opts,
		tracer:   otel.Tracer("tracking-engine/tracking"),
		attempts: counter,
	}
}

// Resolve returns a structured response for req. It never panics on adapter
// failures and never returns cache or request log errors.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) Response {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Resolve",
		trace.WithAttributes(attribute.Bool("tracking.force_refresh", req.ForceRefresh)))
	defer span.End()

	resp := o.resolve(ctx, req)
	resp.ResponseTimeMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.String("tracking.number", resp.TrackingNumber),
		attribute.Bool("tracking.cached", resp.Cached),
		attribute.String("tracking.provider", resp.Provider),
	)
	if !resp.Success {
		span.SetStatus(codes.Error, resp.Error)
	}
	return resp
}

func (o *Orchestrator) resolve(ctx context.Context, req Request) Response {
	number, err := shipment.NormalizeNumber(req.TrackingNumber)
	if err != nil {
		o.opts.Metrics.Resolution("invalid")
		return failed(strings.TrimSpace(req.TrackingNumber), err)
	}
	req.TrackingNumber = number
	key := cache.Key(number, req.CarrierHint)

	if !req.ForceRefresh {
		if res, ok := o.lookup(ctx, key); ok {
			o.opts.Metrics.Resolution("cached")
			resp := succeeded(res, o.opts.Now())
			resp.Cached = true
			return resp
		}
		return o.coalesce(ctx, key+"|"+req.OrganizationID, req, key)
	}
	return o.walk(ctx, req, key)
}

// coalesce shares one provider walk between identical concurrent requests.
// A follower whose leader was cancelled walks again on its own context.
func (o *Orchestrator) coalesce(ctx context.Context, flight string, req Request, key string) Response {
	ch := o.flights.DoChan(flight, func() (any, error) {
		return o.walk(ctx, req, key), nil
	})
	select {
	case <-ctx.Done():
		return o.abandoned(ctx, req.TrackingNumber)
	case res := <-ch:
		resp := res.Val.(Response)
		if res.Shared && resp.cancelled() && ctx.Err() == nil {
			return o.walk(ctx, req, key)
		}
		if res.Shared {
			return resp.clone()
		}
		return resp
	}
}

func (o *Orchestrator) abandoned(ctx context.Context, number string) Response {
	o.opts.Metrics.Resolution("cancelled")
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", errCallerDeadline, err)
	}
	return failed(number, err)
}

func (o *Orchestrator) lookup(ctx context.Context, key string) (shipment.Result, bool) {
	if o.cache == nil {
		return shipment.Result{}, false
	}
	res, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.opts.Metrics.CacheError("get")
		o.opts.Logger.Warn().Err(err).Str("key", key).Msg("cache lookup failed")
		return shipment.Result{}, false
	}
	if ok {
		o.opts.Metrics.CacheLookup("hit")
	} else {
		o.opts.Metrics.CacheLookup("miss")
	}
	return res, ok
}

// walk tries candidates one at a time in priority order.
func (o *Orchestrator) walk(ctx context.Context, req Request, key string) Response {
	det := shipment.Detect(req.TrackingNumber, req.CarrierHint)
	candidates, err := o.selector.SelectCandidates(ctx, det.Type, req.OrganizationID)
	if err != nil {
		o.opts.Metrics.Resolution("registry_error")
		o.opts.Logger.Error().Err(err).Str("tracking_number", req.TrackingNumber).Msg("candidate selection failed")
		return failed(req.TrackingNumber, fmt.Errorf("%w: %w", ErrRegistry, err))
	}
	if len(candidates) == 0 {
		o.opts.Metrics.Resolution("no_candidates")
		resp := failed(req.TrackingNumber, fmt.Errorf("%w: %s", ErrNoCandidates, det.Type))
		resp.Error = fmt.Sprintf("no active provider supports %s tracking", det.Type)
		o.logOutcome(ctx, req, resp)
		return resp
	}

	attempted := make([]string, 0, len(candidates))
	var lastErr error
	for i, p := range candidates {
		if ctx.Err() != nil {
			break
		}
		attempted = append(attempted, p.ID)
		res, err := o.try(ctx, req, det, p, i+1)
		if err != nil {
			lastErr = err
			continue
		}

		o.store(ctx, key, &res)
		o.opts.Metrics.Resolution("resolved")
		resp := succeeded(res, o.opts.Now())
		resp.FallbackUsed = i > 0
		resp.AttemptedProviders = attempted
		o.logOutcome(ctx, req, resp)
		return resp
	}

	if ctx.Err() != nil {
		resp := o.abandoned(ctx, req.TrackingNumber)
		resp.AttemptedProviders = attempted
		return resp
	}
	o.opts.Metrics.Resolution("exhausted")
	resp := failed(req.TrackingNumber, fmt.Errorf("%w: %w", ErrExhausted, lastErr))
	resp.Error = fmt.Sprintf("all %d providers failed; last error: %v", len(attempted), lastErr)
	resp.AttemptedProviders = attempted
	o.logOutcome(ctx, req, resp)
	return resp
}

// store writes res with the TTL its status calls for and stamps CacheUntil.
// Failures are counted and logged only.
func (o *Orchestrator) store(ctx context.Context, key string, res *shipment.Result) {
	ttl := o.ttlFor(res.Status)
	if ttl > 0 {
		until := res.ScrapedAt.Add(ttl)
		res.CacheUntil = &until
	}
	if o.cache == nil {
		return
	}
	if err := o.cache.Put(ctx, key, *res, ttl); err != nil {
		o.opts.Metrics.CacheError("put")
		o.opts.Logger.Warn().Err(err).Str("key", key).Msg("cache store failed")
	}
}

func (o *Orchestrator) ttlFor(s status.Status) time.Duration {
	if s.Terminal() {
		return o.opts.TerminalTTL
	}
	return o.opts.ActiveTTL
}

// Invalidate drops every cached slot for a tracking number.
func (o *Orchestrator) Invalidate(ctx context.Context, trackingNumber string) (int, error) {
	number, err := shipment.NormalizeNumber(trackingNumber)
	if err != nil {
		return 0, err
	}
	if o.cache == nil {
		return 0, nil
	}
	return o.cache.Purge(ctx, number)
}

func (o *Orchestrator) logOutcome(ctx context.Context, req Request, resp Response) {
	evt := o.opts.Logger.Info()
	msg := "tracking_resolved"
	if !resp.Success {
		evt = o.opts.Logger.Warn().Str("error", resp.Error)
		msg = "tracking_failed"
	}
	evt.Str("tracking_number", req.TrackingNumber).
		Str("provider", resp.Provider).
		Int("attempts", len(resp.AttemptedProviders)).
		Bool("fallback_used", resp.FallbackUsed).
		Str("trace_id", obs.TraceID(trace.SpanContextFromContext(ctx))).
		Msg(msg)
}
