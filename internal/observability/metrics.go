// Package observability provides Prometheus metrics for the analysis
// dashboard backend.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Classification service client metrics
	serviceRequestsTotal *prometheus.CounterVec
	serviceErrorsTotal   *prometheus.CounterVec
	serviceDuration      *prometheus.HistogramVec

	// Result collection metrics
	resultsStored        prometheus.Gauge
	refreshesTotal       *prometheus.CounterVec
	staleRefreshesTotal  prometheus.Counter
	deletionsTotal       *prometheus.CounterVec
	analysesTotal        *prometheus.CounterVec
	normalizationDropped prometheus.Counter

	// Chat metrics
	chatMessagesTotal *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() error {
	m.serviceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batservice_requests_total",
			Help: "Total number of requests to the classification service",
		},
		[]string{"operation", "status"}, // status: success, error
	)

	m.serviceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batservice_errors_total",
			Help: "Total number of classification service errors by category",
		},
		[]string{"operation", "category"},
	)

	m.serviceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batservice_request_duration_seconds",
			Help:    "Time taken by classification service requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"operation"},
	)

	m.resultsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "results_stored",
			Help: "Number of analysis results currently held in the store",
		},
	)

	m.refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_refreshes_total",
			Help: "Total number of result collection refreshes",
		},
		[]string{"status"},
	)

	m.staleRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "result_refreshes_stale_total",
			Help: "Total number of refresh completions discarded as stale",
		},
	)

	m.deletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_deletions_total",
			Help: "Total number of result deletion attempts",
		},
		[]string{"status"},
	)

	m.analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_total",
			Help: "Total number of analysis submissions",
		},
		[]string{"kind", "status"}, // kind: audio, spectrogram, batch
	)

	m.normalizationDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "normalization_dropped_results_total",
			Help: "Total number of malformed result entries dropped during normalization",
		},
	)

	m.chatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total number of chat exchanges with the assistant",
		},
		[]string{"status"},
	)

	collectors := []prometheus.Collector{
		m.serviceRequestsTotal,
		m.serviceErrorsTotal,
		m.serviceDuration,
		m.resultsStored,
		m.refreshesTotal,
		m.staleRefreshesTotal,
		m.deletionsTotal,
		m.analysesTotal,
		m.normalizationDropped,
		m.chatMessagesTotal,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordServiceRequest records a classification service call outcome.
func (m *Metrics) RecordServiceRequest(operation, status string) {
	m.serviceRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordServiceError records a categorized service failure.
func (m *Metrics) RecordServiceError(operation, category string) {
	m.serviceErrorsTotal.WithLabelValues(operation, category).Inc()
}

// RecordServiceDuration records how long a service request took.
func (m *Metrics) RecordServiceDuration(operation string, seconds float64) {
	m.serviceDuration.WithLabelValues(operation).Observe(seconds)
}

// SetResultsStored updates the stored result gauge.
func (m *Metrics) SetResultsStored(n int) {
	m.resultsStored.Set(float64(n))
}

// RecordRefresh records a refresh outcome.
func (m *Metrics) RecordRefresh(status string) {
	m.refreshesTotal.WithLabelValues(status).Inc()
}

// RecordStaleRefresh counts a discarded stale refresh completion.
func (m *Metrics) RecordStaleRefresh() {
	m.staleRefreshesTotal.Inc()
}

// RecordDeletion records a deletion attempt outcome.
func (m *Metrics) RecordDeletion(status string) {
	m.deletionsTotal.WithLabelValues(status).Inc()
}

// RecordAnalysis records an analysis submission outcome.
func (m *Metrics) RecordAnalysis(kind, status string) {
	m.analysesTotal.WithLabelValues(kind, status).Inc()
}

// RecordNormalizationDrops counts malformed result entries dropped during
// normalization.
func (m *Metrics) RecordNormalizationDrops(n int) {
	m.normalizationDropped.Add(float64(n))
}

// RecordChatMessage records a chat exchange outcome.
func (m *Metrics) RecordChatMessage(status string) {
	m.chatMessagesTotal.WithLabelValues(status).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
