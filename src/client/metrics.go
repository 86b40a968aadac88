package client

import (
	"github.com/orchestra-mcp/socketclient/src/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for a Client. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connectionsTotal   prometheus.Counter
	reconnectAttempts  prometheus.Counter
	reconnectExhausted prometheus.Counter
	heartbeatsSent     prometheus.Counter
	parseErrors        prometheus.Counter
	messagesReceived   *prometheus.CounterVec
	messagesSent       *prometheus.CounterVec
	sendFailures       *prometheus.CounterVec
	handlerErrors      *prometheus.CounterVec
	connectionState    prometheus.Gauge
}

// NewMetrics creates client metrics and registers them with reg.
// Returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "socketclient",
			Name:      "connections_total",
			Help:      "Total number of successfully opened connections",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "socketclient",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnection attempts",
		}),
		reconnectExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "socketclient",
			Name:      "reconnect_exhausted_total",
			Help:      "Number of times the reconnect budget was exhausted",
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "socketclient",
			Name:      "heartbeats_sent_total",
			Help:      "Total ping envelopes sent",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "socketclient",
			Name:      "parse_errors_total",
			Help:      "Inbound frames dropped because they were not valid envelopes",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "socketclient",
			Name:      "messages_received_total",
			Help:      "Total inbound envelopes by type",
		}, []string{"type"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "socketclient",
			Name:      "messages_sent_total",
			Help:      "Total outbound envelopes by type",
		}, []string{"type"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "socketclient",
			Name:      "send_failures_total",
			Help:      "Send attempts that did not reach the transport",
		}, []string{"reason"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "socketclient",
			Name:      "handler_errors_total",
			Help:      "Handler invocations that returned an error or panicked",
		}, []string{"kind"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "socketclient",
			Name:      "connection_state",
			Help:      "Current ready state (0=idle 1=connecting 2=open 3=closing 4=closed)",
		}),
	}

	reg.MustRegister(
		m.connectionsTotal,
		m.reconnectAttempts,
		m.reconnectExhausted,
		m.heartbeatsSent,
		m.parseErrors,
		m.messagesReceived,
		m.messagesSent,
		m.sendFailures,
		m.handlerErrors,
		m.connectionState,
	)
	return m
}

func (m *Metrics) opened() {
	if m != nil {
		m.connectionsTotal.Inc()
	}
}

func (m *Metrics) reconnecting() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) exhausted() {
	if m != nil {
		m.reconnectExhausted.Inc()
	}
}

func (m *Metrics) heartbeat() {
	if m != nil {
		m.heartbeatsSent.Inc()
	}
}

func (m *Metrics) parseError() {
	if m != nil {
		m.parseErrors.Inc()
	}
}

func (m *Metrics) received(msgType string) {
	if m != nil {
		m.messagesReceived.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) sent(msgType string) {
	if m != nil {
		m.messagesSent.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) sendFailed(reason string) {
	if m != nil {
		m.sendFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) handlerFailed(kind string) {
	if m != nil {
		m.handlerErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) state(s types.ReadyState) {
	if m != nil {
		m.connectionState.Set(float64(s))
	}
}
