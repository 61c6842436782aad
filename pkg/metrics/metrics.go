// Package metrics defines the Prometheus instrumentation for the signaling
// service. Metrics are registered against an injected registry so tests can
// use private registries without double-registration panics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signaling service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// WebSocket Metrics
	wsConnections    prometheus.Gauge
	wsMessagesTotal  *prometheus.CounterVec
	wsSendDropsTotal prometheus.Counter

	// Call Metrics
	callsTotal      *prometheus.CounterVec
	callsActive     prometheus.Gauge
	callDuration    *prometheus.HistogramVec
	signalingErrors *prometheus.CounterVec

	// Push Notification Metrics
	pushNotificationsTotal *prometheus.CounterVec
}

// New creates all metrics and registers them on reg
func New(serviceName string, reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		wsConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "ws_connections",
				Help:        "Number of currently open WebSocket connections",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		wsMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ws_messages_total",
				Help:        "Total number of signaling events by name and direction",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"event", "direction"},
		),
		wsSendDropsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "ws_send_drops_total",
				Help:        "Outbound events dropped because a client send buffer was full",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),

		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls initiated",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"call_type"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of in-flight call sessions",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of ended calls in seconds",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"call_type"},
		),
		signalingErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_errors_total",
				Help:        "Total number of call:error events emitted",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"code"},
		),

		pushNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Total number of push notification sends",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"kind", "status"},
		),
	}
}

// Handler returns the scrape endpoint for this metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// ConnectionOpened increments the open WebSocket connection gauge
func (m *Metrics) ConnectionOpened() { m.wsConnections.Inc() }

// ConnectionClosed decrements the open WebSocket connection gauge
func (m *Metrics) ConnectionClosed() { m.wsConnections.Dec() }

// RecordEvent counts one signaling event ("in" or "out")
func (m *Metrics) RecordEvent(event, direction string) {
	m.wsMessagesTotal.WithLabelValues(event, direction).Inc()
}

// RecordSendDrop counts an outbound event dropped on a full client buffer
func (m *Metrics) RecordSendDrop() { m.wsSendDropsTotal.Inc() }

// CallStarted counts an initiated call and bumps the active gauge
func (m *Metrics) CallStarted(callType string) {
	m.callsTotal.WithLabelValues(callType).Inc()
	m.callsActive.Inc()
}

// CallFinished drops the active gauge and observes the call duration
func (m *Metrics) CallFinished(callType string, duration time.Duration) {
	m.callsActive.Dec()
	m.callDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordSignalingError counts an emitted call:error by code
func (m *Metrics) RecordSignalingError(code string) {
	m.signalingErrors.WithLabelValues(code).Inc()
}

// RecordPush counts a push notification send attempt
func (m *Metrics) RecordPush(kind, status string) {
	m.pushNotificationsTotal.WithLabelValues(kind, status).Inc()
}
