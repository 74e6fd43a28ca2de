// Package metrics provides Prometheus instrumentation for paywall decisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records paywall activity.
type Metrics interface {
	// ObserveDecision records one access decision. kind is a low-cardinality
	// label such as "granted" or "insufficient_credits".
	ObserveDecision(endpoint, accessLevel, kind string, originalBytes, sentBytes int)
	// ObserveCharge records credits charged for a granted request.
	ObserveCharge(credits int64)
	HTTPHandler() http.Handler
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (m *NoopMetrics) ObserveDecision(endpoint, accessLevel, kind string, originalBytes, sentBytes int) {
}

func (m *NoopMetrics) ObserveCharge(credits int64) {}

func (m *NoopMetrics) HTTPHandler() http.Handler {
	return http.NotFoundHandler()
}

// PrometheusMetrics exports paywall metrics on its own registry.
type PrometheusMetrics struct {
	registry       *prometheus.Registry
	decisions      *prometheus.CounterVec
	deliveredRatio *prometheus.HistogramVec
	credits        prometheus.Counter
}

// NewPrometheusMetrics creates and registers the paywall collectors.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "paywall_decisions_total",
				Help:      "Access decisions by endpoint, access level and decision kind.",
			},
			[]string{"endpoint", "access_level", "kind"},
		),
		deliveredRatio: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "paywall_delivered_ratio",
				Help:      "Delivered bytes divided by original bytes.",
				Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.75, 1, 1.5},
			},
			[]string{"access_level"},
		),
		credits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "paywall_credits_charged_total",
				Help:      "Credits charged for granted requests.",
			},
		),
	}

	registry.MustRegister(m.decisions, m.deliveredRatio, m.credits)
	return m
}

func (m *PrometheusMetrics) ObserveDecision(endpoint, accessLevel, kind string, originalBytes, sentBytes int) {
	m.decisions.WithLabelValues(endpoint, accessLevel, kind).Inc()
	if originalBytes > 0 {
		m.deliveredRatio.WithLabelValues(accessLevel).Observe(float64(sentBytes) / float64(originalBytes))
	}
}

func (m *PrometheusMetrics) ObserveCharge(credits int64) {
	if credits > 0 {
		m.credits.Add(float64(credits))
	}
}

// Decisions returns the decision counter.
func (m *PrometheusMetrics) Decisions() *prometheus.CounterVec {
	return m.decisions
}

// CreditsCharged returns the charged-credits counter.
func (m *PrometheusMetrics) CreditsCharged() prometheus.Counter {
	return m.credits
}

// Registry exposes the underlying registry, mainly for tests.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
