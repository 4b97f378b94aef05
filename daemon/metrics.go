package daemon

import (
	"github.com/eshenhu/dlt"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the daemon's prometheus collectors.
type Metrics struct {
	messages    *prometheus.CounterVec
	requests    *prometheus.CounterVec
	parseErrors prometheus.Counter
	connections prometheus.Gauge
	dropped     prometheus.Counter
}

// NewMetrics registers the daemon collectors on reg. A nil reg leaves them
// unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dlt",
				Subsystem: "daemon",
				Name:      "messages_total",
				Help:      "Messages handled, by message type.",
			},
			[]string{"type"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dlt",
				Subsystem: "daemon",
				Name:      "service_requests_total",
				Help:      "Control requests answered, by service and status.",
			},
			[]string{"service", "status"},
		),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dlt",
			Subsystem: "daemon",
			Name:      "parse_errors_total",
			Help:      "Received messages dropped because they could not be parsed.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dlt",
			Subsystem: "daemon",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dlt",
			Subsystem: "daemon",
			Name:      "dropped_messages_total",
			Help:      "Log messages dropped because a client queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.requests, m.parseErrors, m.connections, m.dropped)
	}
	return m
}

func (m *Metrics) message(t dlt.MessageType) {
	m.messages.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) request(id dlt.ServiceID, status dlt.ServiceStatus) {
	m.requests.WithLabelValues(id.String(), status.String()).Inc()
}
