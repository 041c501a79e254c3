// Package telemetry exposes the engine's operational counters on the default
// prometheus registry; main mounts them at /metrics via promhttp.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emberline_messages_created_total",
		Help: "Messages persisted through the create path.",
	})
	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emberline_messages_deleted_total",
		Help: "Messages removed by retention expiry.",
	})
	MessagesHidden = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emberline_messages_hidden_total",
		Help: "Per-viewer soft deletions applied (bulk hides count each message).",
	})
	ReadReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emberline_read_receipts_total",
		Help: "Read receipts that newly marked a message read.",
	})
	BroadcastEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emberline_broadcast_events_total",
		Help: "Events fanned out to room members.",
	})
	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emberline_broadcast_dropped_total",
		Help: "Per-connection deliveries dropped because the send buffer was full.",
	})
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emberline_open_connections",
		Help: "Currently open realtime connections.",
	})
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emberline_active_rooms",
		Help: "Rooms with at least one joined connection.",
	})
	RetentionPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emberline_retention_pending",
		Help: "Armed expiry entries waiting to fire.",
	})
)
