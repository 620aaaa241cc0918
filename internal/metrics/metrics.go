// Package metrics provides Prometheus instrumentation for the FriendlyChat
// feed client and gateway. It exposes gauges for connections and
// subscriptions, counters for message throughput and dropped records, and
// histograms for append and upload latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of gateway WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "friendlychat_connections_total",
		Help: "Current number of active gateway WebSocket connections",
	})

	// SubscriptionsActive tracks the number of live feed subscriptions.
	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "friendlychat_subscriptions_active",
		Help: "Current number of live feed subscriptions",
	})

	// MessagesTotal counts messages processed, labeled by type: "appended",
	// "delivered", "rejected" or "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "friendlychat_messages_total",
		Help: "Total number of feed messages processed",
	}, []string{"type"})

	// RecordsDropped counts subscription events dropped before reaching the
	// view model, labeled by reason: "malformed" or "stale".
	RecordsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "friendlychat_records_dropped_total",
		Help: "Feed events dropped by the subscriber",
	}, []string{"reason"})

	// SubscriptionsCancelled counts subscriptions ended by the backend.
	SubscriptionsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "friendlychat_subscriptions_cancelled_total",
		Help: "Feed subscriptions cancelled by the backend",
	})

	// AppendLatency records feed append latency in seconds.
	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "friendlychat_append_latency_seconds",
		Help:    "Feed append latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// UploadDuration records photo upload time in seconds.
	UploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "friendlychat_upload_duration_seconds",
		Help:    "Photo upload duration in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	// OrphanedObjects counts uploaded objects left behind by a failed append,
	// labeled by outcome: "deleted", "recorded" or "swept".
	OrphanedObjects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "friendlychat_orphaned_objects_total",
		Help: "Uploaded photos whose feed append failed",
	}, []string{"outcome"})

	// ConfigFetches counts remote config fetches, labeled by result:
	// "fetched", "cached" or "failed".
	ConfigFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "friendlychat_config_fetches_total",
		Help: "Remote config fetch attempts",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		SubscriptionsActive,
		MessagesTotal,
		RecordsDropped,
		SubscriptionsCancelled,
		AppendLatency,
		UploadDuration,
		OrphanedObjects,
		ConfigFetches,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
