package shipment

import (
	"sort"
	"time"

	"github.com/noah-isme/tracking-engine/internal/status"
)

// Event is a single normalised tracking event.
type Event struct {
	Timestamp   time.Time     `json:"timestamp"`
	Location    string        `json:"location,omitempty"`
	Description string        `json:"description,omitempty"`
	Status      status.Status `json:"status"`
}

// Result is the canonical tracking result shared by the cache and the API.
type Result struct {
	TrackingNumber string        `json:"trackingNumber"`
	Carrier        string        `json:"carrier,omitempty"`
	Type           Type          `json:"type,omitempty"`
	Status         status.Status `json:"status"`
	RawStatus      string        `json:"rawStatus,omitempty"`
	Origin         string        `json:"origin,omitempty"`
	Destination    string        `json:"destination,omitempty"`
	Vessel         string        `json:"vessel,omitempty"`
	Voyage         string        `json:"voyage,omitempty"`
	ETD            *time.Time    `json:"etd,omitempty"`
	ATD            *time.Time    `json:"atd,omitempty"`
	ETA            *time.Time    `json:"eta,omitempty"`
	ATA            *time.Time    `json:"ata,omitempty"`
	Events         []Event       `json:"events"`
	Provider       string        `json:"provider,omitempty"`
	ScrapedAt      time.Time     `json:"scrapedAt"`
	CacheUntil     *time.Time    `json:"cacheUntil,omitempty"`
}

// SortEvents orders events by timestamp, keeping the provider order for ties.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// Clone returns a deep copy so cached values never share mutable state with callers.
func (r Result) Clone() Result {
	out := r
	out.ETD = cloneTime(r.ETD)
	out.ATD = cloneTime(r.ATD)
	out.ETA = cloneTime(r.ETA)
	out.ATA = cloneTime(r.ATA)
	out.CacheUntil = cloneTime(r.CacheUntil)
	if r.Events != nil {
		out.Events = make([]Event, len(r.Events))
		copy(out.Events, r.Events)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
