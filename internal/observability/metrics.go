package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the server's connection and broadcast counters.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	BroadcastsTotal   prometheus.Counter
	DeliveriesTotal   prometheus.Counter
	DroppedTotal      prometheus.Counter
}

// NewMetrics builds the collector set, registering with reg. A nil reg
// yields unregistered collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "wirechat",
			Name:      "active_connections",
			Help:      "Connections currently tracked by the registry.",
		}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wirechat",
			Name:      "broadcasts_total",
			Help:      "Messages fanned out by the registry.",
		}),
		DeliveriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wirechat",
			Name:      "deliveries_total",
			Help:      "Per-peer broadcast deliveries enqueued.",
		}),
		DroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wirechat",
			Name:      "dropped_deliveries_total",
			Help:      "Broadcast deliveries dropped because a peer queue was full.",
		}),
	}
}
