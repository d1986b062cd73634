// Package metric holds the Prometheus collectors for the write layer and the
// search façade, registered on a private registry.
package metric

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "surreallms"

// Write outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected" // predicate did not hold
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Metrics holds Prometheus metrics for writes and searches.
type Metrics struct {
	registry *prometheus.Registry

	writesTotal   *prometheus.CounterVec   // By table, predicate and outcome
	writeDuration *prometheus.HistogramVec // By table

	searchesTotal  *prometheus.CounterVec   // By table and status (ok/error)
	searchDuration *prometheus.HistogramVec // By table
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		writesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_total",
			Help:      "Total number of conditional writes by outcome",
		}, []string{"table", "predicate", "outcome"}),

		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Conditional write duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"table"}),

		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_total",
			Help:      "Total number of derived store queries",
		}, []string{"table", "status"}),

		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Derived store query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"table"}),
	}

	m.registry.MustRegister(m.writesTotal, m.writeDuration, m.searchesTotal, m.searchDuration)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveWrite records one executor call. A nil receiver is a no-op.
func (m *Metrics) ObserveWrite(table, predicate, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(table, predicate, outcome).Inc()
	m.writeDuration.WithLabelValues(table).Observe(took.Seconds())
}

// ObserveSearch records one façade query. A nil receiver is a no-op.
func (m *Metrics) ObserveSearch(table string, err error, took time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.searchesTotal.WithLabelValues(table, status).Inc()
	m.searchDuration.WithLabelValues(table).Observe(took.Seconds())
}

// Handler serves /metrics from the private registry and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	return r
}
