package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
	httpRequestTimeouts  *prometheus.CounterVec

	// Redis Metrics
	redisDegraded     prometheus.Gauge
	redisHealthChecks prometheus.Counter

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	// Call Metrics
	callTransitionsTotal *prometheus.CounterVec
	callsActive          prometheus.Gauge
	callsDuration        *prometheus.HistogramVec
	callsRefusedTotal    *prometheus.CounterVec
	callQualityScore     prometheus.Histogram
	sideEffectFailures   *prometheus.CounterVec

	// Push Notification Metrics
	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec

	// Cache Metrics
	statsCacheTotal *prometheus.CounterVec

	// Rate Limiting Metrics
	rateLimitBlockedTotal *prometheus.CounterVec

	// Resilience Metrics
	circuitBreakerState *prometheus.GaugeVec
}

// NewMetrics creates all metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: reg,

		// HTTP Request Metrics
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		httpRequestTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_request_timeouts_total",
				Help:        "Total number of HTTP requests that hit the request timeout",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint"},
		),

		// Redis Metrics
		redisDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "redis_degraded_mode",
				Help:        "1 when Redis is unreachable and the service runs degraded",
				ConstLabels: labels,
			},
		),
		redisHealthChecks: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "redis_health_checks_total",
				Help:        "Total number of Redis health checks",
				ConstLabels: labels,
			},
		),

		// WebSocket Metrics
		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),

		// Call Metrics
		callTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_transitions_total",
				Help:        "Total number of call state transitions",
				ConstLabels: labels,
			},
			[]string{"type", "status"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of non-terminal calls started by this instance",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Call duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"type"},
		),
		callsRefusedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_refused_total",
				Help:        "Total number of call operations refused",
				ConstLabels: labels,
			},
			[]string{"operation", "reason"},
		),
		callQualityScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_quality_score",
				Help:        "Reported participant connection quality score",
				ConstLabels: labels,
				Buckets:     []float64{0.2, 0.4, 0.6, 0.8, 1},
			},
		),
		sideEffectFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_side_effect_failures_total",
				Help:        "Total number of failed notifications and cache invalidations",
				ConstLabels: labels,
			},
			[]string{"collaborator"},
		),

		// Push Notification Metrics
		pushNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Total number of push notifications sent",
				ConstLabels: labels,
			},
			[]string{"type", "platform"},
		),
		pushNotificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Total number of failed push notifications",
				ConstLabels: labels,
			},
			[]string{"type", "platform", "reason"},
		),

		// Cache Metrics
		statsCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "stats_cache_requests_total",
				Help:        "Statistics cache lookups by result",
				ConstLabels: labels,
			},
			[]string{"backend", "result"},
		),

		// Rate Limiting Metrics
		rateLimitBlockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_blocked_total",
				Help:        "Total number of requests blocked by rate limiting",
				ConstLabels: labels,
			},
			[]string{"endpoint", "backend"},
		),

		// Resilience Metrics
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "circuit_breaker_state",
				Help:        "Circuit breaker state (0=closed, 1=half_open, 2=open)",
				ConstLabels: labels,
			},
			[]string{"name"},
		),
	}

	return m
}

// GetRegistry returns the registry all metrics are registered on
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordRequestTimeout records a request cut off by the timeout middleware
func (m *Metrics) RecordRequestTimeout(method, endpoint string) {
	m.httpRequestTimeouts.WithLabelValues(method, endpoint).Inc()
}

// Redis Metrics Methods

// SetRedisDegraded flips the degraded-mode gauge
func (m *Metrics) SetRedisDegraded(degraded bool) {
	if degraded {
		m.redisDegraded.Set(1)
		return
	}
	m.redisDegraded.Set(0)
}

// RecordRedisHealthCheck counts one health probe
func (m *Metrics) RecordRedisHealthCheck() {
	m.redisHealthChecks.Inc()
}

// WebSocket Metrics Methods

// SetWebSocketConnections sets the number of active WebSocket connections
func (m *Metrics) SetWebSocketConnections(count int) {
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// Call Metrics Methods

// RecordCallTransition counts a call entering status
func (m *Metrics) RecordCallTransition(callType, status string) {
	m.callTransitionsTotal.WithLabelValues(callType, status).Inc()
}

// IncActiveCalls increments the non-terminal call gauge
func (m *Metrics) IncActiveCalls() {
	m.callsActive.Inc()
}

// DecActiveCalls decrements the non-terminal call gauge
func (m *Metrics) DecActiveCalls() {
	m.callsActive.Dec()
}

// RecordCallDuration records the duration of a finished call
func (m *Metrics) RecordCallDuration(callType string, duration time.Duration) {
	m.callsDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordCallRefused counts an operation refused with reason (an error code)
func (m *Metrics) RecordCallRefused(operation, reason string) {
	m.callsRefusedTotal.WithLabelValues(operation, reason).Inc()
}

// RecordQualityScore observes a participant's score
func (m *Metrics) RecordQualityScore(score float64) {
	m.callQualityScore.Observe(score)
}

// RecordSideEffectFailure counts a notifier or cache failure
func (m *Metrics) RecordSideEffectFailure(collaborator string) {
	m.sideEffectFailures.WithLabelValues(collaborator).Inc()
}

// Push Notification Metrics Methods

// RecordPushNotification records a push notification
func (m *Metrics) RecordPushNotification(notifType, platform string) {
	m.pushNotificationsTotal.WithLabelValues(notifType, platform).Inc()
}

// RecordPushNotificationFailure records a failed push notification
func (m *Metrics) RecordPushNotificationFailure(notifType, platform, reason string) {
	m.pushNotificationsFailed.WithLabelValues(notifType, platform, reason).Inc()
}

// Cache Metrics Methods

// RecordStatsCache records a cache lookup result: hit, miss or error
func (m *Metrics) RecordStatsCache(backend, result string) {
	m.statsCacheTotal.WithLabelValues(backend, result).Inc()
}

// Rate Limiting Metrics Methods

// RecordRateLimitBlocked records a request blocked by rate limiting
func (m *Metrics) RecordRateLimitBlocked(endpoint, backend string) {
	m.rateLimitBlockedTotal.WithLabelValues(endpoint, backend).Inc()
}

// Resilience Metrics Methods

// SetCircuitBreakerState records a breaker's state as 0, 1 or 2
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}
