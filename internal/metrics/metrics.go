// Package metrics provides Prometheus instrumentation for the messenger
// client. It exposes counters for message throughput and dedup/rollback
// events, gauges for subscription state and unread counts, and histograms
// for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSentTotal counts messages handed to the send pipeline,
	// labeled by outcome: "confirmed" or "rolled_back".
	MessagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_messages_sent_total",
		Help: "Messages sent through the pipeline by outcome",
	}, []string{"outcome"}) // outcome = "confirmed", "rolled_back"

	// MessagesReceivedTotal counts inbound push events, labeled by how
	// they were handled: "open_thread", "background", "own_echo", "duplicate".
	MessagesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_messages_received_total",
		Help: "Inbound push messages by routing decision",
	}, []string{"route"})

	// SendLatency records the time from optimistic insert to server
	// confirmation.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messenger_send_latency_seconds",
		Help:    "Time from optimistic insert to server confirmation",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// PushSubscriptions tracks the number of active push subscriptions.
	// The subscription is a per-user singleton, so this never exceeds 1.
	PushSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_push_subscriptions",
		Help: "Current number of active push channel subscriptions",
	})

	// PushReconnectsTotal counts push feed reconnect attempts.
	PushReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messenger_push_reconnects_total",
		Help: "Push feed reconnect attempts",
	})

	// UnreadTotal mirrors the conversation store's unread aggregate.
	UnreadTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_unread_total",
		Help: "Sum of per-conversation unread counts",
	})

	// CacheLookupsTotal counts lookup cache accesses by result.
	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_cache_lookups_total",
		Help: "Context label cache lookups",
	}, []string{"result"}) // result = "hit", "miss"
)

func init() {
	prometheus.MustRegister(
		MessagesSentTotal,
		MessagesReceivedTotal,
		SendLatency,
		PushSubscriptions,
		PushReconnectsTotal,
		UnreadTotal,
		CacheLookupsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
