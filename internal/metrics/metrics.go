// Package metrics provides Prometheus metrics for the cloudcode server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcode_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudcode_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Remote (SSH/SFTP) metrics
	remoteOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcode_remote_operations_total",
			Help: "Total number of remote filesystem operations",
		},
		[]string{"op", "status"},
	)

	remoteOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudcode_remote_operation_duration_seconds",
			Help:    "Remote operation duration in seconds, handshake included",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"op"},
	)

	// Relay metrics
	relayConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudcode_relay_connections_active",
			Help: "Number of active relay WebSocket connections",
		},
	)

	relayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcode_relay_events_total",
			Help: "Total relay events processed, by event name",
		},
		[]string{"event"},
	)

	relayRoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudcode_relay_rooms_active",
			Help: "Number of active relay rooms",
		},
	)

	compilationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudcode_compilations_active",
			Help: "Number of compilation tasks currently tracked",
		},
	)

	// Sync relay metrics
	syncConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudcode_sync_connections_active",
			Help: "Number of active sync relay connections",
		},
	)

	syncRoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudcode_sync_rooms_active",
			Help: "Number of active sync relay rooms",
		},
	)

	syncMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudcode_sync_messages_total",
			Help: "Total sync payloads relayed between peers",
		},
	)
)

// RecordHTTPRequest records one finished HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRemoteOp records one remote filesystem operation.
func RecordRemoteOp(op string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	remoteOpsTotal.WithLabelValues(op, status).Inc()
	remoteOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetRelayConnectionsActive sets the active relay connection gauge.
func SetRelayConnectionsActive(n int) {
	relayConnectionsActive.Set(float64(n))
}

// RecordRelayEvent counts one processed relay event.
func RecordRelayEvent(event string) {
	relayEventsTotal.WithLabelValues(event).Inc()
}

// SetRelayRoomsActive sets the active relay room gauge.
func SetRelayRoomsActive(n int) {
	relayRoomsActive.Set(float64(n))
}

// SetCompilationsActive sets the tracked compilation gauge.
func SetCompilationsActive(n int) {
	compilationsActive.Set(float64(n))
}

// SetSyncConnectionsActive sets the active sync connection gauge.
func SetSyncConnectionsActive(n int) {
	syncConnectionsActive.Set(float64(n))
}

// SetSyncRoomsActive sets the active sync room gauge.
func SetSyncRoomsActive(n int) {
	syncRoomsActive.Set(float64(n))
}

// RecordSyncMessage counts one relayed sync payload.
func RecordSyncMessage() {
	syncMessagesTotal.Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
