// Package requestlog records every provider attempt made while resolving a
// tracking number.
package requestlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Error classes beyond the adapter failure kinds. Gate skips use
// ClassCircuitOpen or ClassRateLimited with Skipped set.
const (
	ClassCircuitOpen = "circuit_open"
	ClassRateLimited = "rate_limited"
	ClassNoAdapter   = "no_adapter"
	ClassCancelled   = "cancelled"
)

// Entry is an immutable record of one provider attempt.
type Entry struct {
	ID             uuid.UUID     `json:"id"`
	TrackingNumber string        `json:"trackingNumber"`
	ProviderID     string        `json:"provider"`
	OrganizationID string        `json:"organizationId,omitempty"`
	Attempt        int           `json:"attempt"`
	Success        bool          `json:"success"`
	Skipped        bool          `json:"skipped,omitempty"`
	Latency        time.Duration `json:"-"`
	ErrorClass     string        `json:"errorClass,omitempty"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// MarshalJSON reports latency in milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	return json.Marshal(struct {
		alias
		LatencyMs int64 `json:"latencyMs"`
	}{alias: alias(e), LatencyMs: e.Latency.Milliseconds()})
}

// NewEntry stamps an entry with a fresh id and creation time.
func NewEntry(e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}

// Appender accepts entries without blocking the caller or returning errors.
type Appender interface {
	Append(e Entry)
}

// Sink persists batches of entries.
type Sink interface {
	Write(ctx context.Context, entries []Entry) error
}

// Reader returns recent entries, newest first.
type Reader interface {
	Recent(ctx context.Context, since time.Time, limit int) ([]Entry, error)
}
