// Package metrics exposes Prometheus instruments for sweeps and sources.
// Every method is safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/source"
)

const namespace = "nutrient_autopilot"

// Metrics holds the engine's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sweeps        *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	products      *prometheus.CounterVec
	lookups       *prometheus.CounterVec
	lookupLatency *prometheus.HistogramVec
	writes        prometheus.Counter
	skipped       prometheus.Counter
	dropped       *prometheus.CounterVec
	tasks         *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Sweeps finished, by status.",
		}, []string{"status"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a sweep.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		products: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_total",
			Help:      "Products processed, by outcome.",
		}, []string{"outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_lookups_total",
			Help:      "Source lookups, by method and outcome.",
		}, []string{"method", "outcome"}),
		lookupLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_lookup_seconds",
			Help:      "Source lookup latency, by method.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"method"}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nutrient_values_written_total",
			Help:      "Nutrient value rows inserted or updated.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nutrient_values_skipped_verified_total",
			Help:      "Nutrient value writes skipped because the row is verified.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nutrient_values_dropped_total",
			Help:      "Values dropped by the plausibility bounds, by nutrient.",
		}, []string{"nutrient"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_tasks_created_total",
			Help:      "Verification tasks created, by severity.",
		}, []string{"severity"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sweeps, m.sweepDuration, m.products, m.lookups, m.lookupLatency,
		m.writes, m.skipped, m.dropped, m.tasks,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSource records one source lookup. It matches source.Observer.
func (m *Metrics) ObserveSource(method source.Method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(string(method), outcome).Inc()
	m.lookupLatency.WithLabelValues(string(method)).Observe(elapsed.Seconds())
}

func (m *Metrics) SweepFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(status).Inc()
	m.sweepDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ProductProcessed(outcome string) {
	if m == nil {
		return
	}
	m.products.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ValuesWritten(written, skippedVerified int) {
	if m == nil {
		return
	}
	m.writes.Add(float64(written))
	m.skipped.Add(float64(skippedVerified))
}

func (m *Metrics) ValueDropped(nutrient string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(nutrient).Inc()
}

func (m *Metrics) TaskCreated(severity string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(severity).Inc()
}
