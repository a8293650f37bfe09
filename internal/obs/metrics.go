package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Handshake results used as the "result" label.
const (
	ResultGranted   = "granted"
	ResultRejected  = "rejected"
	ResultViolation = "protocol_violation"
	ResultTransport = "transport_error"
	ResultInvalid   = "invalid_request"
)

var (
	ConnectionsOpen          = promauto.NewGauge(prometheus.GaugeOpts{Name: "socks4_tunnel_connections_open", Help: "Open transport connections"})
	ConnectFailuresTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "socks4_tunnel_connect_failures_total", Help: "Connections that could not be established, by reason"}, []string{"reason"})
	HandshakesTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "socks4_tunnel_handshakes_total", Help: "Finished SOCKS4 handshakes, by result"}, []string{"result"})
	HandshakeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "socks4_tunnel_handshake_duration_seconds", Help: "Time from CONNECT request to reply", Buckets: prometheus.ExponentialBuckets(0.001, 2, 14)})
	HandshakeTimeoutsTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "socks4_tunnel_handshake_timeouts_total", Help: "Handshakes shut down by the socket timeout"})
	EventsSwallowedTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "socks4_tunnel_events_swallowed_total", Help: "Readiness events withheld from the protocol handler during a handshake"})
)
