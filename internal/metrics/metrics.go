package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveCallSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "workspace_signal_active_call_sessions",
		Help: "Number of active call sessions",
	})
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "workspace_signal_live_connections",
		Help: "Number of live signaling connections",
	})
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "workspace_signal_online_users",
		Help: "Number of users with at least one live connection",
	})
)

// Counters
var (
	CallSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workspace_signal_call_sessions_total",
		Help: "Total call sessions created",
	})
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workspace_signal_events_total",
		Help: "Total signaling events routed, by type",
	}, []string{"type"})
	ProtocolErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workspace_signal_protocol_errors_total",
		Help: "Total rejected signaling events, by reason",
	}, []string{"reason"})
	SlowConsumerKicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workspace_signal_slow_consumer_kicks_total",
		Help: "Connections dropped for persistent backpressure",
	})
)
