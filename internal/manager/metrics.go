package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/world"
)

// Metrics are the manager's Prometheus collectors.
type Metrics struct {
	transitions     *prometheus.CounterVec
	conflicts       prometheus.Counter
	operations      *prometheus.CounterVec
	resolveDuration prometheus.Histogram
	blocks          prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors, which is what tests and library users
// without a metrics endpoint want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "block_transitions_total",
			Help:      "Block status transitions by source and target status.",
		}, []string{"from", "to"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "block_conflicts_total",
			Help:      "Workflow completions that found blocking operation pairs.",
		}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "operations_applied_total",
			Help:      "Atomic operations applied, by batch source and outcome.",
		}, []string{"source", "result"}),
		resolveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loom",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent merging workflow and user streams.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		blocks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "loom",
			Name:      "blocks",
			Help:      "Blocks currently in the tree.",
		}),
	}
}

func (m *Metrics) transition(from, to block.Status) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) applied(source string, results world.Results) {
	ok := len(results.Succeeded())
	if ok > 0 {
		m.operations.WithLabelValues(source, "ok").Add(float64(ok))
	}
	if failed := len(results) - ok; failed > 0 {
		m.operations.WithLabelValues(source, "failed").Add(float64(failed))
	}
}

func (m *Metrics) observeResolve(start time.Time) {
	m.resolveDuration.Observe(time.Since(start).Seconds())
}
