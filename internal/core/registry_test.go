package core

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"layerdeck/internal/eventbus"
	"layerdeck/internal/logging"
	"layerdeck/internal/metrics"
	"layerdeck/internal/notify"
	"layerdeck/internal/render"
	"layerdeck/pkg/domain"
)

const parksJSON = `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}]}`

type harness struct {
	channels *eventbus.Channels
	registry *Registry
	notes    *notify.Recorder
	metrics  *metrics.Metrics
	log      *bytes.Buffer
	trace    *[]string
}

func newHarness(t *testing.T, renderer domain.Renderer) *harness {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	channels := eventbus.NewChannels(eventbus.WithLogger(logging.Discard()))
	m := metrics.New(nil)
	rec := &notify.Recorder{}
	if renderer == nil {
		renderer = render.NewRenderer(render.StrategySequence)
	}
	reg := NewRegistry(channels, renderer, rec, WithLogger(logger), WithMetrics(m))
	reg.Prepare()

	trace := &[]string{}
	for _, bus := range []*eventbus.Bus{channels.LayerList, channels.Map, channels.Selection} {
		bus := bus
		bus.Subscribe(eventbus.TopicLayerAdded, func(_ context.Context, ev eventbus.Event) {
			*trace = append(*trace, bus.Name()+" added "+ev.(eventbus.LayerAdded).Layer.ID.String())
		})
		bus.Subscribe(eventbus.TopicLayerRemoved, func(_ context.Context, ev eventbus.Event) {
			*trace = append(*trace, bus.Name()+" removed "+ev.(eventbus.LayerRemoved).ID.String())
		})
	}
	return &harness{channels: channels, registry: reg, notes: rec, metrics: m, log: &buf, trace: trace}
}

func fileAdded(name, raw string, modified time.Time) eventbus.FileAdded {
	return eventbus.FileAdded{File: domain.FileDescriptor{Name: name, LastModified: modified}, Raw: []byte(raw)}
}

func TestParksScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, h.channels.Layers.Publish(ctx, fileAdded("parks.json", parksJSON, modified)))

	layers := h.registry.List()
	require.Len(t, layers, 1)
	layer := layers[0]
	assert.Equal(t, "parks", layer.Name)
	assert.Equal(t, domain.Stamp("1"), layer.ID)
	assert.Equal(t, []byte(parksJSON), layer.Raw)
	assert.Equal(t, modified, layer.CreatedAt)
	assert.Equal(t, 1, layer.Renderable.FeatureCount())

	notes := h.notes.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotifySuccess, notes[0].Level)
	assert.Equal(t, "parks has been added!", notes[0].Message)
	assert.Equal(t, 5000*time.Millisecond, notes[0].Duration)

	require.NoError(t, h.channels.Layers.Publish(ctx, eventbus.LayerRemoved{ID: layer.ID}))
	assert.Zero(t, h.registry.Len())

	want := []string{"layerlist added 1", "map added 1", "map removed 1", "layerlist removed 1", "selection removed 1"}
	if diff := cmp.Diff(want, *h.trace); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestNameDerivation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for in, want := range map[string]string{
		"coastline.geojson": "coastline",
		"a.b.json":          "a.b",
		"README":            "README",
	} {
		layer, err := h.registry.Add(ctx, fileAdded(in, parksJSON, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, want, layer.Name, in)
	}
}

func TestIdsAreUnique(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seen := map[domain.Stamp]bool{}
	for i := 0; i < 5; i++ {
		layer, err := h.registry.Add(ctx, fileAdded("same.geojson", parksJSON, time.Unix(0, 0)))
		require.NoError(t, err)
		assert.False(t, seen[layer.ID])
		seen[layer.ID] = true
	}
	assert.Equal(t, 5, h.registry.Len())
	assert.InDelta(t, 5, testutil.ToFloat64(h.metrics.LayersActive), 0)
}

func TestRemoveIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	layer, err := h.registry.Add(ctx, fileAdded("roads.geojson", parksJSON, time.Now()))
	require.NoError(t, err)
	other, err := h.registry.Add(ctx, fileAdded("rivers.geojson", parksJSON, time.Now()))
	require.NoError(t, err)
	*h.trace = nil

	h.registry.Remove(ctx, layer.ID)
	h.registry.Remove(ctx, layer.ID)

	_, ok := h.registry.Lookup(layer.ID)
	assert.False(t, ok)
	_, ok = h.registry.Lookup(other.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, h.registry.Len())
	assert.Len(t, *h.trace, 6, "both removals are broadcast")
}

func TestRemoveUnknownStillNotifies(t *testing.T) {
	h := newHarness(t, nil)
	h.registry.Remove(context.Background(), "missing")
	assert.Equal(t, []string{"map removed missing", "layerlist removed missing", "selection removed missing"}, *h.trace)
}

func TestObserversSeeRecordBeforeDeletion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	layer, err := h.registry.Add(ctx, fileAdded("parks.json", parksJSON, time.Now()))
	require.NoError(t, err)

	var seen []bool
	for _, bus := range []*eventbus.Bus{h.channels.Map, h.channels.LayerList, h.channels.Selection} {
		eventbus.On(bus, func(_ context.Context, ev eventbus.LayerRemoved) {
			got, ok := h.registry.Lookup(ev.ID)
			seen = append(seen, ok && got.Name == "parks")
		})
	}
	h.registry.Remove(ctx, layer.ID)

	assert.Equal(t, []bool{true, true, true}, seen)
	assert.Zero(t, h.registry.Len())
}

func TestAddedObserversSeeRecord(t *testing.T) {
	h := newHarness(t, nil)
	var found bool
	eventbus.On(h.channels.Map, func(_ context.Context, ev eventbus.LayerAdded) {
		_, found = h.registry.Lookup(ev.Layer.ID)
	})
	_, err := h.registry.Add(context.Background(), fileAdded("parks.json", parksJSON, time.Now()))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCreationFailureLeavesRegistryUntouched(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.registry.Add(context.Background(), fileAdded("broken.geojson", `{"type":`, time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLayerCreation)
	var lce *domain.LayerCreationError
	require.True(t, errors.As(err, &lce))
	assert.Equal(t, "broken.geojson", lce.Name)

	assert.Zero(t, h.registry.Len())
	assert.Empty(t, *h.trace)
	notes := h.notes.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotifyError, notes[0].Level)
	assert.Contains(t, notes[0].Message, "broken")
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.CreationFailures), 0)
}

func TestCreationFailureViaBusIsContained(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.channels.Layers.Publish(context.Background(), fileAdded("empty.geojson", "", time.Now())))
	assert.Zero(t, h.registry.Len())
	assert.Contains(t, h.log.String(), "Failed to create layer.")
}

type stubRenderable struct{}

func (stubRenderable) FeatureCount() int { return 0 }

type fixedRenderer struct {
	stamp domain.Stamp
	err   error
}

func (f fixedRenderer) MakeRenderable(context.Context, []byte) (domain.Renderable, error) {
	if f.err != nil {
		return nil, f.err
	}
	return stubRenderable{}, nil
}

func (f fixedRenderer) StampOf(domain.Renderable) domain.Stamp { return f.stamp }

func TestDuplicateStampOverwrites(t *testing.T) {
	h := newHarness(t, fixedRenderer{stamp: "dup"})
	ctx := context.Background()

	_, err := h.registry.Add(ctx, fileAdded("first.geojson", "a", time.Now()))
	require.NoError(t, err)
	_, err = h.registry.Add(ctx, fileAdded("second.geojson", "b", time.Now()))
	require.NoError(t, err)

	assert.Equal(t, 1, h.registry.Len())
	got, ok := h.registry.Lookup("dup")
	require.True(t, ok)
	assert.Equal(t, "second", got.Name)
	assert.Contains(t, h.log.String(), "Layer id already registered")
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.DuplicateStamps), 0)
}

func TestEmptyStampIsCreationError(t *testing.T) {
	h := newHarness(t, fixedRenderer{})
	_, err := h.registry.Add(context.Background(), fileAdded("nostamp.geojson", "a", time.Now()))
	require.ErrorIs(t, err, domain.ErrLayerCreation)
	assert.Zero(t, h.registry.Len())
}

func TestRendererErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	h := newHarness(t, fixedRenderer{err: boom})
	_, err := h.registry.Add(context.Background(), fileAdded("x.geojson", "a", time.Now()))
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, domain.ErrLayerCreation)
}

func TestPrepareTwiceHandlesRequestsTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.registry.Prepare()
	assert.Contains(t, h.log.String(), "Registry prepared more than once")

	require.NoError(t, h.channels.Layers.Publish(context.Background(), fileAdded("parks.json", parksJSON, time.Now())))
	assert.Equal(t, 2, h.registry.Len())
	assert.Len(t, h.notes.Notifications(), 2)
}

func TestListOrdersByCreationThenID(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	late := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	early := late.Add(-time.Hour)

	_, err := h.registry.Add(ctx, fileAdded("late.geojson", parksJSON, late))
	require.NoError(t, err)
	_, err = h.registry.Add(ctx, fileAdded("early-a.geojson", parksJSON, early))
	require.NoError(t, err)
	_, err = h.registry.Add(ctx, fileAdded("early-b.geojson", parksJSON, early))
	require.NoError(t, err)

	var names []string
	for _, l := range h.registry.List() {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"early-a", "early-b", "late"}, names)
}

func TestAddCopiesRaw(t *testing.T) {
	h := newHarness(t, nil)
	raw := []byte(parksJSON)
	layer, err := h.registry.Add(context.Background(), eventbus.FileAdded{File: domain.FileDescriptor{Name: "p.json"}, Raw: raw})
	require.NoError(t, err)
	raw[0] = 'X'
	assert.Equal(t, byte('{'), layer.Raw[0])
}

func TestGetWrapsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	layer, err := h.registry.Add(context.Background(), fileAdded("parks.json", parksJSON, time.Now()))
	require.NoError(t, err)

	got, err := h.registry.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, "parks", got.Name)

	_, err = h.registry.Get("ghost")
	require.ErrorIs(t, err, domain.ErrLayerNotFound)
	assert.Contains(t, err.Error(), "ghost")
}

func TestReadsReturnCopies(t *testing.T) {
	h := newHarness(t, nil)
	layer, err := h.registry.Add(context.Background(), fileAdded("parks.json", parksJSON, time.Now()))
	require.NoError(t, err)

	got, ok := h.registry.Lookup(layer.ID)
	require.True(t, ok)
	got.Raw[0] = 'X'
	h.registry.List()[0].Raw[1] = 'Y'

	again, err := h.registry.Get(layer.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(parksJSON), again.Raw)
}

func TestListOrdersSequenceStampsNumerically(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	same := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		_, err := h.registry.Add(ctx, fileAdded("layer.geojson", parksJSON, same))
		require.NoError(t, err)
	}

	var ids []string
	for _, l := range h.registry.List() {
		ids = append(ids, l.ID.String())
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}, ids)
}

func TestStampLessMixedStamps(t *testing.T) {
	assert.True(t, stampLess("2", "10"))
	assert.True(t, stampLess("9", "a"))
	assert.False(t, stampLess("a", "9"))
	assert.True(t, stampLess("abc", "abd"))
}

type nilLayerRenderer struct{ *render.Renderer }

func (n nilLayerRenderer) MakeRenderable(context.Context, []byte) (domain.Renderable, error) {
	return (*render.FeatureLayer)(nil), nil
}

func TestTypedNilRenderableIsCreationError(t *testing.T) {
	h := newHarness(t, nilLayerRenderer{render.NewRenderer(render.StrategySequence)})
	_, err := h.registry.Add(context.Background(), fileAdded("void.geojson", parksJSON, time.Now()))
	require.ErrorIs(t, err, domain.ErrLayerCreation)
	assert.Zero(t, h.registry.Len())
	assert.Empty(t, *h.trace)
}
