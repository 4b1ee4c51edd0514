package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the Bloom paywall server.
type Metrics struct {
	// Verification metrics
	VerificationsTotal        *prometheus.CounterVec
	VerificationsSuccessTotal *prometheus.CounterVec
	VerificationsFailedTotal  *prometheus.CounterVec
	VerificationDuration      *prometheus.HistogramVec

	// Replay protection metrics
	ReplayHitsTotal *prometheus.CounterVec

	// RPC call metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Webhook metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge

	// System metrics
	ArchivalRunsTotal      prometheus.Counter
	ArchivalRecordsDeleted prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Verification metrics
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bloom_verifications_total",
				Help: "Total number of payment verification attempts",
			},
			[]string{"network", "content_id"},
		),
		VerificationsSuccessTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bloom_verifications_success_total",
				Help: "Total number of successful payment verifications",
			},
			[]string{"network", "content_id"},
		),
		VerificationsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bloom_verifications_failed_total",
				Help: "Total number of failed payment verifications",
			},
			[]string{"network", "content_id", "reason"},
		),
		VerificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bloom_verification_duration_seconds",
				Help:    "Time taken to verify a payment proof (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"network"},
		),

		// Replay protection metrics
		ReplayHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bloom_replay_hits_total",
				Help: "Total number of rejected replayed payment proofs",
			},
			[]string{"network"},
		),

		// RPC call metrics
		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bloom_rpc_calls_total",
				Help: "Total number of JSON-RPC calls to the blockchain",
			},
			[]string{"method", "network"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bloom_rpc_call_duration_seconds",
				Help:    "Duration of JSON-RPC calls to the blockchain (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "network"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bloom_rpc_errors_total",
				Help: "Total number of JSON-RPC errors",
			},
			[]string{"method", "network", "error_type"},
		),

		// Webhook metrics
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bloom_webhooks_total",
				Help: "Total number of webhook deliveries",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bloom_webhook_retries_total",
				Help: "Total number of webhook retry attempts",
			},
			[]string{"event_type", "attempt"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bloom_webhook_duration_seconds",
				Help:    "Time taken for webhook delivery",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bloom_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bloom_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bloom_db_connections_active",
				Help: "Number of active database connections",
			},
		),

		// System metrics
		ArchivalRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bloom_archival_runs_total",
				Help: "Total number of usage archival runs",
			},
		),
		ArchivalRecordsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bloom_archival_records_deleted_total",
				Help: "Total number of usage records deleted by archival",
			},
		),
	}
}

// ObserveVerification records a verification attempt and its outcome.
func (m *Metrics) ObserveVerification(network, contentID string, valid bool, failureReason string, duration time.Duration) {
	m.VerificationsTotal.WithLabelValues(network, contentID).Inc()
	if valid {
		m.VerificationsSuccessTotal.WithLabelValues(network, contentID).Inc()
	} else {
		m.VerificationsFailedTotal.WithLabelValues(network, contentID, failureReason).Inc()
	}
	m.VerificationDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// ObserveReplayHit records a rejected replayed proof.
func (m *Metrics) ObserveReplayHit(network string) {
	m.ReplayHitsTotal.WithLabelValues(network).Inc()
}

// ObserveRPCCall records a JSON-RPC call to the blockchain.
func (m *Metrics) ObserveRPCCall(method, network string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(method, network).Inc()
	m.RPCCallDuration.WithLabelValues(method, network).Observe(duration.Seconds())

	if err != nil {
		errorType := "other"
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
			errorType = "timeout"
		case strings.Contains(errStr, "rate limit"):
			errorType = "rate_limit"
		case strings.Contains(errStr, "connection"):
			errorType = "connection"
		case strings.Contains(errStr, "not found"):
			errorType = "not_found"
		}
		m.RPCErrorsTotal.WithLabelValues(method, network, errorType).Inc()
	}
}

// ObserveWebhook records webhook delivery.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int) {
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())

	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveArchival records an archival run.
func (m *Metrics) ObserveArchival(recordsDeleted int64) {
	m.ArchivalRunsTotal.Inc()
	m.ArchivalRecordsDeleted.Add(float64(recordsDeleted))
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
