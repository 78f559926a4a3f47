// Package metrics defines the Prometheus collectors exported by layerdeck.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the registry and bus collectors.
type Metrics struct {
	// LayersActive tracks the number of layers currently held by the registry
	LayersActive prometheus.Gauge

	// LayerEvents counts registry notifications by event name
	LayerEvents *prometheus.CounterVec

	// CreationFailures counts payloads the renderer could not turn into a layer
	CreationFailures prometheus.Counter

	// DuplicateStamps counts stamping collisions that overwrote a live layer
	DuplicateStamps prometheus.Counter

	// HandlerPanics counts recovered subscriber panics by channel and topic
	HandlerPanics *prometheus.CounterVec

	// ArchiveErrors counts failed raw payload archive operations by operation
	ArchiveErrors *prometheus.CounterVec
}

// New registers the collectors against reg. A nil reg yields collectors that
// are not exported anywhere, which is what most tests want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LayersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "layerdeck_layers_active",
			Help: "Number of layers currently held by the registry",
		}),
		LayerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "layerdeck_layer_events_total",
			Help: "Layer notifications published by the registry, by event",
		}, []string{"event"}),
		CreationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "layerdeck_layer_creation_failures_total",
			Help: "Payloads that could not be turned into a renderable layer",
		}),
		DuplicateStamps: factory.NewCounter(prometheus.CounterOpts{
			Name: "layerdeck_duplicate_stamps_total",
			Help: "Stamping collisions that overwrote a live layer",
		}),
		HandlerPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "layerdeck_bus_handler_panics_total",
			Help: "Recovered event subscriber panics, by channel and topic",
		}, []string{"channel", "topic"}),
		ArchiveErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "layerdeck_archive_errors_total",
			Help: "Failed raw payload archive operations, by operation",
		}, []string{"operation"}),
	}
}
