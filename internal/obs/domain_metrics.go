package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TrackingMetrics groups the collectors for tracking resolution. A nil
// *TrackingMetrics records nothing.
type TrackingMetrics struct {
	Attempts          *prometheus.CounterVec
	AttemptDuration   *prometheus.HistogramVec
	Resolutions       *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	CacheErrors       *prometheus.CounterVec
	RequestLogDropped prometheus.Counter
	RequestLogFailed  prometheus.Counter
	BatchItems        *prometheus.CounterVec
}

// NewTrackingMetrics registers tracking collectors on reg, reusing any that
// are already registered.
func NewTrackingMetrics(reg prometheus.Registerer) *TrackingMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const ns = "tracking"
	return &TrackingMetrics{
		Attempts: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "attempts_total",
			Help:      "Provider attempts by outcome.",
		}, []string{"provider", "outcome"})),
		AttemptDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "attempt_duration_ms",
			Help:      "Provider attempt latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		}, []string{"provider"})),
		Resolutions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "resolutions_total",
			Help:      "Resolution outcomes.",
		}, []string{"outcome"})),
		CacheLookups: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"})),
		CacheErrors: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_errors_total",
			Help:      "Result cache operation failures.",
		}, []string{"op"})),
		RequestLogDropped: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "request_log_dropped_total",
			Help:      "Request log entries dropped because the buffer was full.",
		})),
		RequestLogFailed: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "request_log_failed_total",
			Help:      "Request log entries the sink failed to persist.",
		})),
		BatchItems: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "batch_items_total",
			Help:      "Batch items by result.",
		}, []string{"result"})),
	}
}

// ObserveAttempt records one provider attempt.
func (m *TrackingMetrics) ObserveAttempt(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(provider, outcome).Inc()
	if outcome != "skipped" {
		m.AttemptDuration.WithLabelValues(provider).Observe(DurationMillis(d))
	}
}

func (m *TrackingMetrics) Resolution(outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
}

func (m *TrackingMetrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *TrackingMetrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(op).Inc()
}

func (m *TrackingMetrics) BatchItem(result string) {
	if m == nil {
		return
	}
	m.BatchItems.WithLabelValues(result).Inc()
}
