// Package adapter defines the contract between the orchestrator and external
// tracking sources, plus the API, scraper and static implementations.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/resilience"
	"github.com/noah-isme/tracking-engine/internal/shipment"
)

var (
	// ErrNoAdapter is returned when no adapter can be resolved for a provider.
	ErrNoAdapter = errors.New("adapter: no adapter for provider")
	// ErrUnsupportedKind is returned for an unknown provider adapter kind.
	ErrUnsupportedKind = errors.New("adapter: unsupported adapter kind")
)

// Request is a single tracking query handed to an adapter.
type Request struct {
	TrackingNumber string
	Type           shipment.Type
	CarrierHint    string
	Provider       registry.Provider
}

// RawEvent is an event as reported by the provider, before normalisation.
type RawEvent struct {
	Timestamp   time.Time
	Location    string
	Description string
	Status      string
}

// RawResult is the provider's answer in its own vocabulary.
type RawResult struct {
	Carrier     string
	Status      string
	Origin      string
	Destination string
	Vessel      string
	Voyage      string
	ETD         *time.Time
	ATD         *time.Time
	ETA         *time.Time
	ATA         *time.Time
	Events      []RawEvent
}

// Adapter queries one external source. Implementations must return promptly
// once ctx is done.
type Adapter interface {
	Track(ctx context.Context, req Request) (RawResult, error)
}

// Func adapts a function to Adapter.
type Func func(ctx context.Context, req Request) (RawResult, error)

func (f Func) Track(ctx context.Context, req Request) (RawResult, error) { return f(ctx, req) }

// Kind classifies adapter failures.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindUnknown     Kind = "unknown"
)

// Failure is a typed adapter failure.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "adapter: " + string(f.Kind)
	}
	return fmt.Sprintf("adapter: %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NotFound reports that the provider does not know the tracking number.
func NotFound(err error) error { return &Failure{Kind: KindNotFound, Err: err} }

// RateLimited reports that the provider refused the call due to quota.
func RateLimited(err error) error { return &Failure{Kind: KindRateLimited, Err: err} }

// Timeout reports that the provider did not answer in time.
func Timeout(err error) error { return &Failure{Kind: KindTimeout, Err: err} }

// Classify maps any adapter error onto a failure kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusTooManyRequests:
			return KindRateLimited
		case http.StatusNotFound, http.StatusGone:
			return KindNotFound
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return KindTimeout
		}
	}
	return KindUnknown
}
