package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LayersActive.Set(2)
	m.LayerEvents.WithLabelValues("layer:added").Inc()
	m.CreationFailures.Inc()
	m.DuplicateStamps.Inc()
	m.HandlerPanics.WithLabelValues("map", "layer:removed").Inc()
	m.ArchiveErrors.WithLabelValues("put").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"layerdeck_layers_active",
		"layerdeck_layer_events_total",
		"layerdeck_layer_creation_failures_total",
		"layerdeck_duplicate_stamps_total",
		"layerdeck_bus_handler_panics_total",
		"layerdeck_archive_errors_total",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
	assert.InDelta(t, 2, testutil.ToFloat64(m.LayersActive), 0)
}

func TestNewWithNilRegisterer(t *testing.T) {
	m := New(nil)
	m.CreationFailures.Inc()
	assert.InDelta(t, 1, testutil.ToFloat64(m.CreationFailures), 0)
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
