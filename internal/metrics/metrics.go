package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the SongCast server.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	RoomsCreatedTotal prometheus.Counter
	RoomsExpiredTotal prometheus.Counter
	MessagesTotal     *prometheus.CounterVec
	BroadcastsTotal   prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "songcast_connections_total",
			Help: "Total WebSocket connections accepted",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "songcast_active_connections",
			Help: "Current active WebSocket connections",
		}),
		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "songcast_active_rooms",
			Help: "Current live rooms",
		}),
		RoomsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "songcast_rooms_created_total",
			Help: "Total rooms created",
		}),
		RoomsExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "songcast_rooms_expired_total",
			Help: "Total rooms reaped after controller absence",
		}),
		MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "songcast_messages_total",
			Help: "Total inbound messages handled",
		}, []string{"type"}),
		BroadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "songcast_broadcasts_total",
			Help: "Total room broadcasts sent",
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "songcast_errors_total",
			Help: "Total protocol errors by kind",
		}, []string{"kind"}),
	}
}
