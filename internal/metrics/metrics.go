// Package metrics provides Prometheus metrics for the togethr client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Backend call metrics
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	SendsTotal       *prometheus.CounterVec
	SendsInFlight    prometheus.Gauge
	ProductSetsTotal *prometheus.CounterVec
	SignupsTotal     *prometheus.CounterVec
}

// New creates all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := func(c prometheus.Collector) { reg.MustRegister(c) }

	m := &Metrics{registry: reg}

	m.BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "togethr_backend_requests_total",
			Help: "Total number of backend requests",
		},
		[]string{"op", "outcome"},
	)
	factory(m.BackendRequestsTotal)

	m.BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "togethr_backend_request_duration_seconds",
			Help:    "Duration of backend requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	factory(m.BackendRequestDuration)

	m.SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "togethr_sends_total",
			Help: "Message sends by outcome",
		},
		[]string{"outcome"},
	)
	factory(m.SendsTotal)

	m.SendsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "togethr_sends_in_flight",
			Help: "Number of message sends currently in flight",
		},
	)
	factory(m.SendsInFlight)

	m.ProductSetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "togethr_product_sets_total",
			Help: "Product collections appended to transcripts, by source",
		},
		[]string{"source"},
	)
	factory(m.ProductSetsTotal)

	m.SignupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "togethr_guest_signups_total",
			Help: "Guest signup attempts by outcome",
		},
		[]string{"outcome"},
	)
	factory(m.SignupsTotal)

	return m
}

// ObserveBackend records one backend call.
func (m *Metrics) ObserveBackend(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(op, outcome).Inc()
	m.BackendRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SendStarted marks a send as in flight.
func (m *Metrics) SendStarted() {
	if m == nil {
		return
	}
	m.SendsInFlight.Inc()
}

// SendFinished records the outcome of a send that was in flight.
func (m *Metrics) SendFinished(outcome string) {
	if m == nil {
		return
	}
	m.SendsInFlight.Dec()
	m.SendsTotal.WithLabelValues(outcome).Inc()
}

// SendRejected records a send refused before any work started.
func (m *Metrics) SendRejected(reason string) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(reason).Inc()
}

// ProductSet records an appended product collection ("inline" or "fetched").
func (m *Metrics) ProductSet(source string) {
	if m == nil {
		return
	}
	m.ProductSetsTotal.WithLabelValues(source).Inc()
}

// Signup records a guest signup attempt.
func (m *Metrics) Signup(outcome string) {
	if m == nil {
		return
	}
	m.SignupsTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
