package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sessions
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Number of active sessions",
	})

	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_created_total",
		Help: "Total sessions created",
	})

	SessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_sessions_ended_total",
		Help: "Total sessions ended, by reason",
	}, []string{"reason"})

	ViewersJoinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_viewers_joined_total",
		Help: "Total successful viewer joins",
	})

	JoinRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_join_rejections_total",
		Help: "Total rejected join attempts, by reason",
	}, []string{"reason"})

	// Signaling traffic
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "Total websocket connections accepted",
	})

	MessagesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_received_total",
		Help: "Total inbound signaling messages",
	})

	MessagesRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_relayed_total",
		Help: "Total negotiation messages forwarded, by kind",
	}, []string{"kind"})
)

// Helper functions

func RecordSessionCreated() {
	SessionsCreatedTotal.Inc()
	ActiveSessions.Inc()
}

func RecordSessionsEnded(reason string, count int) {
	if count == 0 {
		return
	}
	SessionsEndedTotal.WithLabelValues(reason).Add(float64(count))
	ActiveSessions.Sub(float64(count))
}

func RecordJoinRejection(reason string) {
	JoinRejectionsTotal.WithLabelValues(reason).Inc()
}

func RecordRelayed(kind string) {
	MessagesRelayedTotal.WithLabelValues(kind).Inc()
}
