package requestlog

import (
	"math"
	"sort"
	"time"
)

// Health summarises recent attempts for one provider.
type Health struct {
	Provider      string         `json:"provider"`
	Attempts      int            `json:"attempts"`
	Successes     int            `json:"successes"`
	Skipped       int            `json:"skipped"`
	SuccessRate   float64        `json:"successRate"`
	AvgLatencyMs  int64          `json:"avgLatencyMs"`
	P95LatencyMs  int64          `json:"p95LatencyMs"`
	ErrorClasses  map[string]int `json:"errorClasses,omitempty"`
	LastError     string         `json:"lastError,omitempty"`
	LastAttemptAt time.Time      `json:"lastAttemptAt"`
}

// Score aggregates entries per provider, ordered by provider id. Attempts that
// were skipped by a gate do not count toward latency or success rate.
func Score(entries []Entry) []Health {
	type acc struct {
		h         Health
		latencies []time.Duration
		lastErrAt time.Time
	}
	byProvider := make(map[string]*acc)
	for _, e := range entries {
		a, ok := byProvider[e.ProviderID]
		if !ok {
			a = &acc{h: Health{Provider: e.ProviderID}}
			byProvider[e.ProviderID] = a
		}
		if e.CreatedAt.After(a.h.LastAttemptAt) {
			a.h.LastAttemptAt = e.CreatedAt
		}
		if e.Skipped {
			a.h.Skipped++
			continue
		}
		a.h.Attempts++
		a.latencies = append(a.latencies, e.Latency)
		if e.Success {
			a.h.Successes++
			continue
		}
		if e.ErrorClass != "" {
			if a.h.ErrorClasses == nil {
				a.h.ErrorClasses = make(map[string]int)
			}
			a.h.ErrorClasses[e.ErrorClass]++
		}
		if !e.CreatedAt.Before(a.lastErrAt) {
			a.lastErrAt = e.CreatedAt
			a.h.LastError = e.Error
		}
	}

	out := make([]Health, 0, len(byProvider))
	for _, a := range byProvider {
		if a.h.Attempts > 0 {
			a.h.SuccessRate = float64(a.h.Successes) / float64(a.h.Attempts)
			var total time.Duration
			for _, l := range a.latencies {
				total += l
			}
			a.h.AvgLatencyMs = (total / time.Duration(len(a.latencies))).Milliseconds()
			a.h.P95LatencyMs = percentile(a.latencies, 0.95).Milliseconds()
		}
		out = append(out, a.h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// percentile uses the nearest-rank method.
func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
