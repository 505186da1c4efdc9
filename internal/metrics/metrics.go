// Package metrics exposes the daemon's prometheus instrumentation:
// queue depth, connected services, dispatch counts and drops.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every prometheus collector the daemon updates.
type Metrics struct {
	QueueDepth        prometheus.Gauge
	ConnectedServices prometheus.Gauge
	MessagesDispatched prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	SubscriberQueueLen *prometheus.GaugeVec
}

// New registers every collector against a fresh registry.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatcherd",
			Name:      "queue_depth",
			Help:      "Number of frames waiting in the dispatcher's in-queue.",
		}),
		ConnectedServices: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatcherd",
			Name:      "connected_services",
			Help:      "Number of services that have sent SERV_ACTIVE since startup.",
		}),
		MessagesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatcherd",
			Name:      "messages_dispatched_total",
			Help:      "Total messages successfully handed to a subscriber queue.",
		}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatcherd",
			Name:      "messages_dropped_total",
			Help:      "Total messages dropped, by reason.",
		}, []string{"reason"}),
		SubscriberQueueLen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dispatcherd",
			Name:      "subscriber_queue_length",
			Help:      "Current pending messages per subscriber.",
		}, []string{"service"}),
	}

	return m, reg
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
