// Package metrics defines the Prometheus collectors exported by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultNamespace = "xclone"

// Delivery outcomes recorded by the realtime hub.
const (
	DeliveryQueued  = "queued"
	DeliveryDropped = "dropped"
	DeliveryNoRoom  = "no_room"
)

// Collectors groups the realtime and notification metrics.
type Collectors struct {
	ActiveConnections  prometheus.Gauge
	HandshakeFailures  *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	DispatchFailures   *prometheus.CounterVec
}

// Config configures collector registration.
type Config struct {
	Namespace string
	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// New registers the collectors with the configured registry.
func New(cfg Config) *Collectors {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Collectors{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "active_connections",
			Help:      "Number of joined realtime connections",
		}),
		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "handshake_failures_total",
			Help:      "Rejected realtime handshakes by reason",
		}, []string{"reason"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Realtime event deliveries by event and outcome",
		}, []string{"event", "outcome"}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "created_total",
			Help:      "Persisted notifications by type",
		}, []string{"type"}),
		DispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_failures_total",
			Help:      "Notification dispatch failures by reason",
		}, []string{"reason"}),
	}
}

// NewNop returns collectors registered on a throwaway registry.
func NewNop() *Collectors {
	return New(Config{Registry: prometheus.NewRegistry()})
}
