package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// ConnectionsActive tracks connected event stream clients.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parimutuel_ws_active_connections",
		Help: "Number of connected event stream clients",
	})

	// MessagesSentTotal tracks events queued to clients by type.
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parimutuel_ws_messages_sent_total",
			Help: "Total number of events queued to websocket clients",
		},
		[]string{"event_type"},
	)

	// ClientsDroppedTotal tracks clients disconnected for falling behind.
	ClientsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_ws_clients_dropped_total",
		Help: "Total number of websocket clients dropped for a full queue",
	})

	// ReconnectAttemptsTotal tracks subscriber reconnection attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_ws_reconnect_attempts_total",
		Help: "Total number of event stream reconnection attempts",
	})
)
