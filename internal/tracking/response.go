package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/tracking-engine/internal/shipment"
	"github.com/noah-isme/tracking-engine/internal/status"
)

// Request is a single tracking query.
type Request struct {
	TrackingNumber string
	CarrierHint    string
	ForceRefresh   bool
	OrganizationID string
}

// Response is the envelope returned for every resolution, successful or not.
// On success the canonical result fields are inlined.
type Response struct {
	Success        bool   `json:"success"`
	TrackingNumber string `json:"trackingNumber"`
	*shipment.Result
	StatusLabel        string   `json:"statusLabel,omitempty"`
	Delayed            bool     `json:"delayed"`
	Provider           string   `json:"provider,omitempty"`
	FallbackUsed       bool     `json:"fallbackUsed"`
	Cached             bool     `json:"cached"`
	ResponseTimeMs     int64    `json:"responseTimeMs"`
	AttemptedProviders []string `json:"attemptedProviders,omitempty"`
	Error              string   `json:"error,omitempty"`

	// Err is the typed failure behind Error.
	Err error `json:"-"`
}

func succeeded(res shipment.Result, now time.Time) Response {
	r := res.Clone()
	return Response{
		Success:        true,
		TrackingNumber: r.TrackingNumber,
		Result:         &r,
		StatusLabel:    r.Status.Label(),
		Delayed:        status.IsDelayed(r.ETA, r.Status, now),
		Provider:       r.Provider,
	}
}

func failed(number string, err error) Response {
	return Response{TrackingNumber: number, Error: message(err), Err: err}
}

// clone gives each coalesced caller its own copy.
func (r Response) clone() Response {
	out := r
	if r.Result != nil {
		res := r.Result.Clone()
		out.Result = &res
	}
	out.AttemptedProviders = append([]string(nil), r.AttemptedProviders...)
	return out
}

func (r Response) cancelled() bool {
	return errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, errCallerDeadline)
}

func message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, shipment.ErrInvalidTrackingNumber):
		return "invalid tracking number"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, errCallerDeadline):
		return "request deadline exceeded"
	default:
		return err.Error()
	}
}
