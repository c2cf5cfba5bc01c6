package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"motorlink/internal/registry"
)

const namespace = "motorlink"

// Metrics contains the broker collectors, registered on a private registry
type Metrics struct {
	MessagesReceived   *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	MessagesDelivered  *prometheus.CounterVec
	Connections        *prometheus.CounterVec
	HeartbeatEvictions *prometheus.CounterVec
	PingFailures       *prometheus.CounterVec

	prometheusRegistry *prometheus.Registry
}

// New creates the broker metrics. Connected peer gauges read reg on scrape.
func New(reg *registry.Registry) *Metrics {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of inbound messages by peer kind and envelope type",
			},
			[]string{"peer", "type"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Total number of inbound messages that were not relayed",
			},
			[]string{"peer", "reason"},
		),

		MessagesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "delivered_total",
				Help:      "Total number of frames accepted by peer send buffers",
			},
			[]string{"target", "type"},
		),

		Connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connections",
				Name:      "total",
				Help:      "Connection lifecycle events by peer kind",
			},
			[]string{"peer", "event"},
		),

		HeartbeatEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "heartbeat",
				Name:      "evictions_total",
				Help:      "Peers removed after missing a heartbeat",
			},
			[]string{"peer"},
		),

		PingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "heartbeat",
				Name:      "ping_failures_total",
				Help:      "Heartbeat pings that could not be written",
			},
			[]string{"peer"},
		),

		prometheusRegistry: prometheus.NewRegistry(),
	}

	m.prometheusRegistry.MustRegister(
		m.MessagesReceived,
		m.MessagesDropped,
		m.MessagesDelivered,
		m.Connections,
		m.HeartbeatEvictions,
		m.PingFailures,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "peers",
				Name:      "devices",
				Help:      "Currently registered devices",
			},
			func() float64 { return float64(reg.Snapshot().Devices) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "peers",
				Name:      "dashboards",
				Help:      "Currently registered dashboards",
			},
			func() float64 { return float64(reg.Snapshot().Dashboards) },
		),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler exposes the collectors in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.prometheusRegistry, promhttp.HandlerOpts{})
}

// Received counts an inbound message
func (m *Metrics) Received(peer registry.PeerKind, msgType string) {
	if msgType == "" {
		msgType = "unknown"
	}
	m.MessagesReceived.WithLabelValues(string(peer), msgType).Inc()
}

// Dropped counts an inbound message that was not relayed
func (m *Metrics) Dropped(peer registry.PeerKind, reason string) {
	m.MessagesDropped.WithLabelValues(string(peer), reason).Inc()
}

// Delivered adds the fan-out count of one relayed message
func (m *Metrics) Delivered(target registry.PeerKind, msgType string, count int) {
	m.MessagesDelivered.WithLabelValues(string(target), msgType).Add(float64(count))
}

// Connection counts a connection lifecycle event
func (m *Metrics) Connection(peer registry.PeerKind, event string) {
	m.Connections.WithLabelValues(string(peer), event).Inc()
}

// PeerEvicted implements heartbeat.Observer
func (m *Metrics) PeerEvicted(kind registry.PeerKind) {
	m.HeartbeatEvictions.WithLabelValues(string(kind)).Inc()
}

// PingFailed implements heartbeat.Observer
func (m *Metrics) PingFailed(kind registry.PeerKind) {
	m.PingFailures.WithLabelValues(string(kind)).Inc()
}
