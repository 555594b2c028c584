package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parleychat/parley/pkg/protocol"
)

// Metrics aggregates the server's Prometheus collectors. A nil *Metrics is
// a valid no-op receiver so tests and tools can skip wiring it.
type Metrics struct {
	activeSessions   prometheus.Gauge
	channelCount     prometheus.Gauge
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	retransmissions  prometheus.Counter
	unconfirmedSends prometheus.Counter
	sessionsTotal    prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_active_sessions",
			Help: "Number of currently connected sessions.",
		}),
		channelCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_channels",
			Help: "Number of channels in the directory.",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_messages_received_total",
			Help: "Messages received, by protocol type.",
		}, []string{"type"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_messages_sent_total",
			Help: "Messages sent, by protocol type.",
		}, []string{"type"}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_udp_retransmissions_total",
			Help: "Datagrams retransmitted after a confirmation timeout.",
		}),
		unconfirmedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_udp_unconfirmed_sends_total",
			Help: "Datagram sends that exhausted every retry unconfirmed.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_sessions_total",
			Help: "Sessions accepted since startup.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.activeSessions,
		m.channelCount,
		m.messagesReceived,
		m.messagesSent,
		m.retransmissions,
		m.unconfirmedSends,
		m.sessionsTotal,
	)
	return m
}

// Registry exposes the collectors for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) RecordSessionStopped() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) RecordChannelCount(n int) {
	if m == nil {
		return
	}
	m.channelCount.Set(float64(n))
}

func (m *Metrics) RecordMessageReceived(t protocol.Type) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) RecordMessageSent(t protocol.Type) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) RecordRetransmission() {
	if m == nil {
		return
	}
	m.retransmissions.Inc()
}

func (m *Metrics) RecordUnconfirmedSend() {
	if m == nil {
		return
	}
	m.unconfirmedSends.Inc()
}
