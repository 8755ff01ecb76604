// Package observability exposes the relay's prometheus collectors.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Publish results.
const (
	Published = "published"
	Dropped   = "dropped"
	Failed    = "failed"
)

// Delivery outcomes on the consumer side.
const (
	Acked     = "acked"
	Requeued  = "requeued"
	Retried   = "retried"
	DeadDrop  = "dropped"
	Rejected  = "rejected"
	Malformed = "malformed"
)

var (
	NotificationsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_notifications_published_total",
			Help: "Notification events handed to the broker, by result",
		},
		[]string{"result"},
	)
	QueueDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_queue_deliveries_total",
			Help: "Queue deliveries processed by the consumer, by outcome",
		},
		[]string{"outcome"},
	)
	NotificationsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_notifications_dispatched_total",
			Help: "Notification records dispatched to the mail transport, by result",
		},
		[]string{"result"},
	)
	DeferredChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deferred_checks_total",
			Help: "Deferred-read checks run, by decision",
		},
		[]string{"decision"},
	)
	ConnectedUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connected_users",
			Help: "Users currently holding a realtime connection",
		},
	)
	Sampled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_sampled",
			Help: "Values sampled periodically, by name",
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(
		NotificationsPublished,
		QueueDeliveries,
		NotificationsDispatched,
		DeferredChecks,
		ConnectedUsers,
		Sampled,
	)
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
