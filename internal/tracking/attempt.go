package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/tracking-engine/internal/adapter"
	"github.com/noah-isme/tracking-engine/internal/obs"
	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/requestlog"
	"github.com/noah-isme/tracking-engine/internal/resilience"
	"github.com/noah-isme/tracking-engine/internal/shipment"
)

var (
	errCircuitOpen = errors.New("circuit open")
	errRateLimited = errors.New("attempt budget exhausted")
)

// outcome of a single candidate, also written to the request log.
type outcome struct {
	success bool
	skipped bool
	class   string
	err     error
	latency time.Duration
}

// try runs one candidate through its gates and adapter. Every call appends
// exactly one request log entry.
func (o *Orchestrator) try(ctx context.Context, req Request, det shipment.Detection, p registry.Provider, attempt int) (shipment.Result, error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.attempt", trace.WithAttributes(
		attribute.String("tracking.provider", p.ID),
		attribute.Int("tracking.attempt", attempt),
		attribute.String("tracking.type", string(det.Type)),
	))
	defer span.End()

	var (
		res shipment.Result
		out outcome
	)
	breaker := o.breaker(p.ID)
	switch {
	case !breaker.Allow(ctx):
		out = outcome{skipped: true, class: requestlog.ClassCircuitOpen, err: errCircuitOpen}
	case !o.withinBudget(ctx, p):
		breaker.Release()
		out = outcome{skipped: true, class: requestlog.ClassRateLimited, err: errRateLimited}
	default:
		res, out = o.call(ctx, req, det, p)
		switch {
		case out.success:
			breaker.Report(ctx, true)
		case out.class == requestlog.ClassCancelled || out.class == requestlog.ClassNoAdapter:
			breaker.Release()
		case out.class == string(adapter.KindNotFound):
			// the provider answered; it just does not know this number
			breaker.Report(ctx, true)
		default:
			breaker.Report(ctx, false)
		}
	}

	o.record(ctx, req, p, attempt, out)
	if out.success {
		return res, nil
	}
	span.SetStatus(codes.Error, out.class)
	if out.err != nil {
		span.RecordError(out.err)
	}
	return shipment.Result{}, fmt.Errorf("%s: %w", p.ID, out.err)
}

func (o *Orchestrator) breaker(id string) *resilience.Breaker {
	if o.opts.Breakers == nil {
		return nil
	}
	return o.opts.Breakers.For(id)
}

// withinBudget fails open when the limiter store is unavailable.
func (o *Orchestrator) withinBudget(ctx context.Context, p registry.Provider) bool {
	if o.opts.Limiter == nil {
		return true
	}
	d, err := o.opts.Limiter.Allow(ctx, p)
	if err != nil {
		o.opts.Logger.Warn().Err(err).Str("provider", p.ID).Msg("rate limiter unavailable")
		return true
	}
	return d.Allowed
}

func (o *Orchestrator) call(ctx context.Context, req Request, det shipment.Detection, p registry.Provider) (shipment.Result, outcome) {
	a, err := o.adapters.Resolve(p)
	if err != nil {
		return shipment.Result{}, outcome{class: requestlog.ClassNoAdapter, err: err}
	}

	actx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
	defer cancel()
	start := time.Now()
	raw, err := track(actx, a, adapter.Request{
		TrackingNumber: req.TrackingNumber,
		Type:           det.Type,
		CarrierHint:    req.CarrierHint,
		Provider:       p,
	})
	latency := time.Since(start)

	if ctx.Err() != nil {
		// the caller went away; this says nothing about the provider
		return shipment.Result{}, outcome{class: requestlog.ClassCancelled, err: ctx.Err(), latency: latency}
	}
	if actx.Err() != nil && (err == nil || errors.Is(err, context.DeadlineExceeded)) {
		// answers after the deadline are discarded
		if err == nil {
			err = context.DeadlineExceeded
		}
		err = adapter.Timeout(fmt.Errorf("no answer within %s: %w", o.opts.AttemptTimeout, err))
	}
	if err == nil {
		return o.normalize(raw, req.TrackingNumber, det, p), outcome{success: true, latency: latency}
	}
	return shipment.Result{}, outcome{class: string(adapter.Classify(err)), err: err, latency: latency}
}

type trackReply struct {
	raw adapter.RawResult
	err error
}

// track runs a.Track and returns when it answers or ctx ends, whichever comes
// first. An adapter that ignores ctx keeps running in the background and its
// late reply is dropped.
func track(ctx context.Context, a adapter.Adapter, req adapter.Request) (adapter.RawResult, error) {
	reply := make(chan trackReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				reply <- trackReply{err: fmt.Errorf("adapter panicked: %v", r)}
			}
		}()
		raw, err := a.Track(ctx, req)
		reply <- trackReply{raw: raw, err: err}
	}()
	select {
	case r := <-reply:
		return r.raw, r.err
	case <-ctx.Done():
		return adapter.RawResult{}, ctx.Err()
	}
}

// normalize maps a provider answer onto the canonical result.
func (o *Orchestrator) normalize(raw adapter.RawResult, number string, det shipment.Detection, p registry.Provider) shipment.Result {
	res := shipment.Result{
		TrackingNumber: number,
		Carrier:        raw.Carrier,
		Type:           det.Type,
		RawStatus:      raw.Status,
		Origin:         raw.Origin,
		Destination:    raw.Destination,
		Vessel:         raw.Vessel,
		Voyage:         raw.Voyage,
		ETD:            utc(raw.ETD),
		ATD:            utc(raw.ATD),
		ETA:            utc(raw.ETA),
		ATA:            utc(raw.ATA),
		Events:         make([]shipment.Event, 0, len(raw.Events)),
		Provider:       p.ID,
		ScrapedAt:      o.opts.Now().UTC(),
	}
	if res.Carrier == "" {
		res.Carrier = det.Carrier
	}
	for _, ev := range raw.Events {
		rawStatus := ev.Status
		if rawStatus == "" {
			rawStatus = ev.Description
		}
		res.Events = append(res.Events, shipment.Event{
			Timestamp:   ev.Timestamp.UTC(),
			Location:    ev.Location,
			Description: ev.Description,
			Status:      o.opts.Normalizer.Normalize(rawStatus),
		})
	}
	shipment.SortEvents(res.Events)

	switch {
	case raw.Status != "":
		res.Status = o.opts.Normalizer.Normalize(raw.Status)
	case len(res.Events) > 0:
		res.Status = res.Events[len(res.Events)-1].Status
	default:
		res.Status = o.opts.Normalizer.Normalize("")
	}
	return res
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func (o *Orchestrator) record(ctx context.Context, req Request, p registry.Provider, attempt int, out outcome) {
	label := "failure"
	switch {
	case out.success:
		label = "success"
	case out.skipped:
		label = "skipped"
	}
	o.opts.Metrics.ObserveAttempt(p.ID, label, out.latency)
	if o.attempts != nil {
		o.attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", p.ID),
			attribute.String("outcome", label),
		))
	}

	errText := ""
	if out.err != nil {
		errText = out.err.Error()
	}
	o.opts.Logger.Debug().
		Str("tracking_number", req.TrackingNumber).
		Str("provider", p.ID).
		Int("attempt", attempt).
		Int64("latency_ms", out.latency.Milliseconds()).
		Str("outcome", label).
		Str("error_class", out.class).
		Str("trace_id", obs.TraceID(trace.SpanContextFromContext(ctx))).
		Msg("tracking_attempt")

	if o.opts.Log == nil {
		return
	}
	o.opts.Log.Append(requestlog.NewEntry(requestlog.Entry{
		TrackingNumber: req.TrackingNumber,
		ProviderID:     p.ID,
		OrganizationID: req.OrganizationID,
		Attempt:        attempt,
		Success:        out.success,
		Skipped:        out.skipped,
		Latency:        out.latency,
		ErrorClass:     out.class,
		Error:          errText,
	}))
}
