package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's prometheus collectors. Each Server carries
// its own registry so tests can run servers side by side.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	RequestsTotal     *prometheus.CounterVec
	RequestFailures   *prometheus.CounterVec
	ParseErrors       prometheus.Counter
	PushAttempts      prometheus.Counter
	PushDelivered     prometheus.Counter
	AccountsCreated   prometheus.Counter
	MessagesCreated   prometheus.Counter
}

// NewMetrics registers all collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatserve_active_connections",
			Help: "Number of currently open client connections.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatserve_connections_total",
			Help: "Total client connections accepted.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatserve_requests_total",
			Help: "Requests handled, by operation and codec.",
		}, []string{"operation", "codec"}),
		RequestFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatserve_request_failures_total",
			Help: "Requests answered with a failure frame, by operation.",
		}, []string{"operation"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatserve_parse_errors_total",
			Help: "Requests dropped at the codec boundary.",
		}),
		PushAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatserve_push_attempts_total",
			Help: "Live delivery attempts to connected recipients.",
		}),
		PushDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatserve_push_delivered_total",
			Help: "Messages delivered via live push.",
		}),
		AccountsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatserve_accounts_created_total",
			Help: "Accounts created.",
		}),
		MessagesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatserve_messages_created_total",
			Help: "Messages stored.",
		}),
	}
}
