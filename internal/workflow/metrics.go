package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JaimeStill/docflow/pkg/metrics"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	transitions *prometheus.CounterVec
	responses   *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	contention  prometheus.Counter
	duration    *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Committed document transitions by outcome.",
		}, []string{"outcome"}),
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workflow",
			Name:      "approval_responses_total",
			Help:      "Approval responses recorded by decision.",
		}, []string{"decision"}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workflow",
			Name:      "approval_resolutions_total",
			Help:      "Approval requests closed by final status.",
		}, []string{"status"}),
		contention: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workflow",
			Name:      "transition_conflicts_total",
			Help:      "Transition attempts refused because another was in progress.",
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workflow",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) observe(operation string, start time.Time) {
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
