// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages committed, by kind.",
	}, []string{"kind"})

	ReceiptsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_receipts_applied_total",
		Help: "Delivery and read receipts that changed a message.",
	}, []string{"receipt"})

	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_fanout_delivered_total",
		Help: "Events handed to a transport, by event type.",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_fanout_dropped_total",
		Help: "Events dropped, by reason.",
	}, []string{"reason"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_gateway_connections",
		Help: "Live websocket connections on this gateway.",
	})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_gateway_online_users",
		Help: "Users with at least one connection on this gateway.",
	})

	CASRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_store_cas_retries_total",
		Help: "Compare-and-set conflicts retried by the Scylla store.",
	})

	PushNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_push_notifications_total",
		Help: "Offline notifications, by outcome (sent, muted).",
	}, []string{"outcome"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
