// Package metrics exposes the hub's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the hub records into. A dedicated registry is
// used so multiple instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	AuthFailures      prometheus.Counter

	// Broker consumption
	MessagesConsumed   prometheus.Counter
	MessagesDropped    prometheus.Counter
	ConsumerReconnects prometheus.Counter
	ConsumerState      prometheus.Gauge

	// Fan-out
	BroadcastsTotal  prometheus.Counter
	RecordsPersisted prometheus.Counter
	PersistFailures  prometheus.Counter
	PushesTotal      prometheus.Counter
	PushFailures     prometheus.Counter
}

// New creates and registers all hub collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_connections_active",
			Help: "Current number of open WebSocket connections",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_auth_failures_total",
			Help: "Total number of connections refused at handshake",
		}),

		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_broker_messages_consumed_total",
			Help: "Total number of messages consumed from the broker",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_broker_messages_dropped_total",
			Help: "Total number of malformed broker messages dropped",
		}),
		ConsumerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_consumer_reconnects_total",
			Help: "Total number of broker reconnect attempts",
		}),
		ConsumerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_consumer_state",
			Help: "Queue consumer state (0=disconnected 1=connecting 2=bound 3=consuming 4=stopped)",
		}),

		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Total number of notifications fanned out",
		}),
		RecordsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_records_persisted_total",
			Help: "Total number of delivery records written to the store",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_record_persist_failures_total",
			Help: "Total number of delivery records that failed to persist",
		}),
		PushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_pushes_total",
			Help: "Total number of notification pushes to live connections",
		}),
		PushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_push_failures_total",
			Help: "Total number of failed pushes to live connections",
		}),
	}

	m.registry.MustRegister(
		m.ConnectionsActive, m.ConnectionsTotal, m.AuthFailures,
		m.MessagesConsumed, m.MessagesDropped, m.ConsumerReconnects, m.ConsumerState,
		m.BroadcastsTotal, m.RecordsPersisted, m.PersistFailures,
		m.PushesTotal, m.PushFailures,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler returns the scrape endpoint for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
