package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_breaker_state",
			Help: "Current provider breaker state: 0=closed,1=open,2=half-open",
		},
		[]string{"provider"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_breaker_transition_total",
			Help: "Count of provider breaker state transitions",
		},
		[]string{"provider", "from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_breaker_open_total",
			Help: "Number of times a provider breaker transitioned into open state",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
