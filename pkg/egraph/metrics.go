package egraph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports engine activity to Prometheus. Rule labels are bounded by
// the configured rule set, so the rule label has fixed cardinality per engine.
type Metrics struct {
	steps   prometheus.Counter
	applied *prometheus.CounterVec
	matches *prometheus.CounterVec
	rebuild prometheus.Histogram
	nodes   prometheus.Gauge
	classes prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics on reg.
// Passing prometheus.DefaultRegisterer exposes them on the default /metrics
// handler; tests should pass a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		steps: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eggstep",
			Name:      "steps_total",
			Help:      "Number of saturation steps executed",
		}),
		applied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eggstep",
			Name:      "rule_applied_total",
			Help:      "Number of steps in which a rule produced an observable change",
		}, []string{"rule"}),
		matches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eggstep",
			Name:      "matches_total",
			Help:      "Number of substitutions found per rule",
		}, []string{"rule"}),
		rebuild: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eggstep",
			Name:      "rebuild_seconds",
			Help:      "Time spent restoring congruence after applying one rule",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		nodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "eggstep",
			Name:      "nodes",
			Help:      "Current number of e-nodes",
		}),
		classes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "eggstep",
			Name:      "classes",
			Help:      "Current number of equivalence classes",
		}),
	}
}

func (m *Metrics) observe(r *StepReport) {
	if m == nil {
		return
	}
	m.steps.Inc()
	for label, n := range r.Matches {
		m.matches.WithLabelValues(label.String()).Add(float64(n))
	}
	for _, label := range r.Applied {
		m.applied.WithLabelValues(label.String()).Inc()
	}
	m.nodes.Set(float64(r.NodesAfter))
	m.classes.Set(float64(r.ClassesAfter))
}

func (m *Metrics) observeRebuild(d time.Duration) {
	if m == nil {
		return
	}
	m.rebuild.Observe(d.Seconds())
}

func (m *Metrics) setSize(nodes, classes int) {
	if m == nil {
		return
	}
	m.nodes.Set(float64(nodes))
	m.classes.Set(float64(classes))
}
