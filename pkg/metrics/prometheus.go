package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signaling service
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Presence Metrics
	onlineUsers prometheus.Gauge

	// Call Metrics
	callsInitiatedTotal *prometheus.CounterVec
	callsResolvedTotal  *prometheus.CounterVec
	callsActive         prometheus.Gauge
	ringDuration        *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),

		websocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket connections",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		websocketMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket signaling messages",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"event", "direction"},
		),
		websocketErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"error"},
		),

		onlineUsers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "presence_online_users",
				Help:        "Number of users with at least one live connection",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),

		callsInitiatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_initiated_total",
				Help:        "Total number of call attempts",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"type"},
		),
		callsResolvedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_resolved_total",
				Help:        "Total number of call sessions that reached a terminal state",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"type", "outcome"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of live call sessions",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		ringDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_ring_duration_seconds",
				Help:        "Time a call spent ringing before resolution",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     []float64{1, 2, 5, 10, 20, 30, 45, 60},
			},
			[]string{"outcome"},
		),
	}
}

// All record helpers are nil-safe so components can run without metrics in tests.

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// IncrementWebSocketConnections increments the active connection gauge
func (m *Metrics) IncrementWebSocketConnections() {
	if m == nil {
		return
	}
	m.websocketConnections.Inc()
}

// DecrementWebSocketConnections decrements the active connection gauge
func (m *Metrics) DecrementWebSocketConnections() {
	if m == nil {
		return
	}
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage records one signaling message; direction is "inbound" or "outbound"
func (m *Metrics) RecordWebSocketMessage(event, direction string) {
	if m == nil {
		return
	}
	m.websocketMessagesTotal.WithLabelValues(event, direction).Inc()
}

// RecordWebSocketError records a WebSocket-level error by kind
func (m *Metrics) RecordWebSocketError(kind string) {
	if m == nil {
		return
	}
	m.websocketErrorsTotal.WithLabelValues(kind).Inc()
}

// IncrementOnlineUsers increments the online-user gauge
func (m *Metrics) IncrementOnlineUsers() {
	if m == nil {
		return
	}
	m.onlineUsers.Inc()
}

// DecrementOnlineUsers decrements the online-user gauge
func (m *Metrics) DecrementOnlineUsers() {
	if m == nil {
		return
	}
	m.onlineUsers.Dec()
}

// RecordCallInitiated records a new ringing call session
func (m *Metrics) RecordCallInitiated(callType string) {
	if m == nil {
		return
	}
	m.callsInitiatedTotal.WithLabelValues(callType).Inc()
	m.callsActive.Inc()
}

// RecordCallResolved records a session reaching a terminal state along with
// how long it rang before resolution
func (m *Metrics) RecordCallResolved(callType, outcome string, ringDuration time.Duration) {
	if m == nil {
		return
	}
	m.callsResolvedTotal.WithLabelValues(callType, outcome).Inc()
	m.callsActive.Dec()
	m.ringDuration.WithLabelValues(outcome).Observe(ringDuration.Seconds())
}

// RecordCallRejected records a call attempt that never produced a session
func (m *Metrics) RecordCallRejected(callType, reason string) {
	if m == nil {
		return
	}
	m.callsResolvedTotal.WithLabelValues(callType, reason).Inc()
}
