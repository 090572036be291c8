package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the Nexus gateway.
type Metrics struct {
	// ISO 20022 message processing metrics
	MessagesTotal      *prometheus.CounterVec
	MessageDuration    *prometheus.HistogramVec
	ValidationFailures *prometheus.CounterVec

	// Payment outcome metrics
	PaymentsTotal       *prometheus.CounterVec
	InvariantViolations *prometheus.CounterVec

	// FX quote metrics
	QuotesCreatedTotal *prometheus.CounterVec
	QuoteLookupsTotal  *prometheus.CounterVec

	// Proxy resolution metrics
	ProxyResolutionsTotal *prometheus.CounterVec

	// Callback delivery metrics
	CallbacksTotal        *prometheus.CounterVec
	CallbackRetriesTotal  *prometheus.CounterVec
	CallbackDLQTotal      prometheus.Counter
	CallbackDuration      *prometheus.HistogramVec
	CallbackQueueDepth    prometheus.Gauge
	CallbackBreakerTrips  *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge

	// Store health (1 = reachable, 0 = failing)
	StoreHealthy prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// ISO 20022 message processing metrics
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_messages_total",
				Help: "Total number of ISO 20022 messages received, by type and outcome",
			},
			[]string{"message_type", "outcome"},
		),
		MessageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_message_duration_seconds",
				Help:    "Time taken to process an inbound message (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"message_type"},
		),
		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_validation_failures_total",
				Help: "Total number of message validation failures, by stage (xml, schema, business)",
			},
			[]string{"message_type", "stage"},
		),

		// Payment outcome metrics
		PaymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_payments_total",
				Help: "Total number of payments reaching a status, by status and reason code",
			},
			[]string{"status", "reason"},
		),
		InvariantViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_invariant_violations_total",
				Help: "Total number of monetary consistency check failures, by check name",
			},
			[]string{"check"},
		),

		// FX quote metrics
		QuotesCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_quotes_created_total",
				Help: "Total number of FX quotes created, by corridor",
			},
			[]string{"source_currency", "destination_currency"},
		),
		QuoteLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_quote_lookups_total",
				Help: "Total number of quote lookups, by outcome (hit, expired, missing)",
			},
			[]string{"outcome"},
		),

		// Proxy resolution metrics
		ProxyResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_proxy_resolutions_total",
				Help: "Total number of proxy resolution requests, by outcome",
			},
			[]string{"outcome"},
		),

		// Callback delivery metrics
		CallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_callbacks_total",
				Help: "Total number of status report callback deliveries, by outcome",
			},
			[]string{"status"},
		),
		CallbackRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_callback_retries_total",
				Help: "Total number of callback retry attempts, by attempt number",
			},
			[]string{"attempt"},
		),
		CallbackDLQTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nexus_callback_dlq_total",
				Help: "Total number of callbacks parked after exhausting retries",
			},
		),
		CallbackDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_callback_duration_seconds",
				Help:    "Time taken for callback delivery including retries",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		),
		CallbackQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus_callback_queue_depth",
				Help: "Number of parked callbacks awaiting redelivery",
			},
		),
		CallbackBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_callback_breaker_open_total",
				Help: "Total number of deliveries rejected by an open circuit breaker, by destination host",
			},
			[]string{"host"},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_rate_limit_hits_total",
				Help: "Total number of requests rejected by the rate limiter, by route",
			},
			[]string{"route"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus_db_connections_active",
				Help: "Number of active database connections",
			},
		),

		StoreHealthy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus_store_healthy",
				Help: "Whether the message store responded to the last health ping (1 = yes)",
			},
		),
	}
}

// ObserveMessage records an inbound message and its processing outcome.
func (m *Metrics) ObserveMessage(messageType, outcome string, duration time.Duration) {
	m.MessagesTotal.WithLabelValues(messageType, outcome).Inc()
	m.MessageDuration.WithLabelValues(messageType).Observe(duration.Seconds())
}

// ObserveValidationFailure records a rejected message with the stage that failed.
func (m *Metrics) ObserveValidationFailure(messageType, stage string) {
	m.ValidationFailures.WithLabelValues(messageType, stage).Inc()
}

// ObservePaymentStatus records a payment reaching a status. The reason code is
// empty for accepted payments.
func (m *Metrics) ObservePaymentStatus(status, reason string) {
	if reason == "" {
		reason = "none"
	}
	m.PaymentsTotal.WithLabelValues(status, reason).Inc()
}

// ObserveInvariantViolation records a failed monetary consistency check.
func (m *Metrics) ObserveInvariantViolation(check string) {
	m.InvariantViolations.WithLabelValues(check).Inc()
}

// ObserveQuoteCreated records a new FX quote for a corridor.
func (m *Metrics) ObserveQuoteCreated(sourceCurrency, destinationCurrency string) {
	m.QuotesCreatedTotal.WithLabelValues(sourceCurrency, destinationCurrency).Inc()
}

// ObserveQuoteLookup records a quote lookup outcome (hit, expired, missing).
func (m *Metrics) ObserveQuoteLookup(outcome string) {
	m.QuoteLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProxyResolution records a proxy resolution outcome.
func (m *Metrics) ObserveProxyResolution(outcome string) {
	m.ProxyResolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCallback records a callback delivery attempt sequence.
func (m *Metrics) ObserveCallback(status string, duration time.Duration, attempt int, sentToDLQ bool) {
	m.CallbacksTotal.WithLabelValues(status).Inc()
	m.CallbackDuration.WithLabelValues(status).Observe(duration.Seconds())

	if attempt > 1 {
		m.CallbackRetriesTotal.WithLabelValues(formatAttempt(attempt)).Inc()
	}

	if sentToDLQ {
		m.CallbackDLQTotal.Inc()
	}
}

// ObserveBreakerRejection records a delivery short-circuited by an open breaker.
func (m *Metrics) ObserveBreakerRejection(host string) {
	m.CallbackBreakerTrips.WithLabelValues(host).Inc()
}

// SetCallbackQueueDepth tracks the number of parked callbacks.
func (m *Metrics) SetCallbackQueueDepth(depth int) {
	m.CallbackQueueDepth.Set(float64(depth))
}

// ObserveRateLimit records a request rejected by the rate limiter.
func (m *Metrics) ObserveRateLimit(route string) {
	m.RateLimitHitsTotal.WithLabelValues(route).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// SetStoreHealthy tracks the last store health ping result.
func (m *Metrics) SetStoreHealthy(healthy bool) {
	if healthy {
		m.StoreHealthy.Set(1)
	} else {
		m.StoreHealthy.Set(0)
	}
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
