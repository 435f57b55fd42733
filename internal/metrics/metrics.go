package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drifthook_tasks_enqueued_total",
			Help: "Total number of delivery tasks created.",
		},
		[]string{"tenant_id"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drifthook_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome", "tenant_id"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drifthook_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	DeadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drifthook_dead_total",
			Help: "Total number of tasks dead-lettered by reason.",
		},
		[]string{"reason"}, // attempts_exhausted, config_missing
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drifthook_tick_duration_seconds",
			Help:    "Duration of a single dispatcher tick.",
			Buckets: prometheus.DefBuckets,
		},
	)

	DueTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drifthook_due_tasks",
			Help: "Number of due tasks fetched on the most recent tick (batch bounded).",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(EnqueuedTotal, DeliveriesTotal, RetriesTotal, DeadTotal, TickDuration, DueTasks)
}

// RecordEnqueued increments the task creation counter for a tenant
func RecordEnqueued(tenantID string) {
	EnqueuedTotal.WithLabelValues(tenantID).Inc()
}

// RecordDelivery records the outcome of one delivery attempt
func RecordDelivery(outcome, tenantID string) {
	DeliveriesTotal.WithLabelValues(outcome, tenantID).Inc()
}

// RecordRetry increments the retry counter for a failure reason
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDead increments the dead-letter counter for a reason
func RecordDead(reason string) {
	DeadTotal.WithLabelValues(reason).Inc()
}

// RecordTick observes one tick duration and the size of its due batch
func RecordTick(d time.Duration, due int) {
	TickDuration.Observe(d.Seconds())
	DueTasks.Set(float64(due))
}
