// Package metrics defines the hub's Prometheus instrumentation. Collectors
// are package-level and registered with the default registerer; Handler
// exposes them for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive is the current number of registered connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opshub_connections_active",
		Help: "Current number of live websocket connections",
	})

	// MessagesRouted counts inbound envelopes by message type.
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opshub_messages_routed_total",
		Help: "Inbound messages dispatched by the router, by type",
	}, []string{"type"})

	// BroadcastsSent counts outbound fan-outs by delivery mode.
	BroadcastsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opshub_broadcasts_total",
		Help: "Broadcast operations, by delivery mode (connection, topic, all)",
	}, []string{"mode"})

	// DeliveryFailures counts sends that triggered an implicit disconnect.
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opshub_delivery_failures_total",
		Help: "Failed sends treated as implicit disconnects",
	})

	// TickDuration observes how long one simulator tick takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opshub_sim_tick_duration_seconds",
		Help:    "Duration of one flight kinematics tick",
		Buckets: prometheus.DefBuckets,
	})

	// TicksSkipped counts simulator ticks skipped because the previous one
	// was still running.
	TicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opshub_sim_ticks_skipped_total",
		Help: "Simulator ticks skipped due to an overlapping execution",
	})

	// PollerRows counts change-feed rows turned into broadcasts.
	PollerRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opshub_poller_rows_total",
		Help: "Changed rows fetched by the change-feed poller",
	})
)

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
