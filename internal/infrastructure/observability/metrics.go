package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Receipt metrics
	ReceiptsTotal        *prometheus.CounterVec
	CorrelationDuration  *prometheus.HistogramVec
	InflightCorrelations prometheus.Gauge
	DecodeTiers          *prometheus.CounterVec
	EchoMismatches       prometheus.Counter
	InboxWriteErrors     prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRequests *prometheus.CounterVec

	// Worker metrics
	WorkerMessagesProcessed *prometheus.CounterVec
	ReconciledTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ReceiptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "receipts_total",
				Help:      "Total number of dispatched commands by kind, mode and outcome",
			},
			[]string{"kind", "mode", "outcome"},
		),
		CorrelationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "correlation_duration_seconds",
				Help:      "Time from inbox write to terminal outcome",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		InflightCorrelations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_correlations",
				Help:      "Number of commands currently awaiting a driver result",
			},
		),
		DecodeTiers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_tier_total",
				Help:      "Error artifacts decoded, by extraction tier",
			},
			[]string{"tier"},
		),
		EchoMismatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "echo_mismatch_total",
				Help:      "Error artifacts whose echoed command differed from the sent command",
			},
		),
		InboxWriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbox_write_errors_total",
				Help:      "Commands that could not be written to the inbox",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_requests_total",
				Help:      "Total number of circuit breaker requests",
			},
			[]string{"name", "result"},
		),
		WorkerMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of outbox entries handled by the worker",
			},
			[]string{"stream", "status"},
		),
		ReconciledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciled_total",
				Help:      "Timed out receipts examined by the reconciler, by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.ReceiptsTotal,
		m.CorrelationDuration,
		m.InflightCorrelations,
		m.DecodeTiers,
		m.EchoMismatches,
		m.InboxWriteErrors,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.CircuitBreakerRequests,
		m.WorkerMessagesProcessed,
		m.ReconciledTotal,
	)

	return m
}
