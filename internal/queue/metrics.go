package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	ProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_processed_total",
			Help: "Refresh tasks grouped by task type and status",
		},
		[]string{"type", "status"},
	)
	RefreshItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_refresh_items_total",
			Help: "Tracking numbers handled by refresh tasks grouped by result",
		},
		[]string{"result"},
	)
	QueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_size",
			Help: "Tasks in the queue grouped by state, sampled on admin stats requests",
		},
		[]string{"queue", "state"},
	)
)

func init() {
	prometheus.MustRegister(ProcessedTotal, RefreshItemsTotal, QueueSize)
}
