package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ResolvedTotal   prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	StepsTotal      *prometheus.CounterVec
	ResolveDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		ResolvedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unlocker_links_resolved_total",
			Help: "The total number of links resolved to a destination URL",
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unlocker_errors_total",
			Help: "The total number of terminally failed tasks",
		}, []string{"kind"}), // e.g., 'network_error', 'unlock_rejected'
		StepsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unlocker_steps_total",
			Help: "The total number of gate steps simulated",
		}, []string{"kind"}),
		ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "unlocker_resolve_duration_seconds",
			Help:    "Wall-clock time spent resolving one link",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
}

// Nil receivers are tolerated so metrics stay optional in tests.

func (m *Metrics) IncResolved() {
	if m == nil {
		return
	}
	m.ResolvedTotal.Inc()
}

func (m *Metrics) IncErrors(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncSteps(kind string) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveResolveDuration(seconds float64) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(seconds)
}
