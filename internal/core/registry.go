package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"layerdeck/internal/eventbus"
	"layerdeck/internal/metrics"
	"layerdeck/pkg/domain"
)

// DefaultNotifyDuration is how long the "has been added" toast stays visible.
const DefaultNotifyDuration = 5000 * time.Millisecond

// Registry owns the id to layer mapping and keeps the map surface, the
// layer list and the selection in step with it.
//
// Add and Remove are serialised by opMu. The record map has its own lock so
// that observers may call Lookup, List and Len from inside a notification
// callback while an operation is still running. Observers must not call Add
// or Remove from inside a callback.
type Registry struct {
	channels *eventbus.Channels
	renderer domain.Renderer
	notifier domain.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	duration time.Duration

	opMu     sync.Mutex
	mu       sync.RWMutex
	layers   map[domain.Stamp]domain.Layer
	prepared int
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithNotifyDuration overrides DefaultNotifyDuration.
func WithNotifyDuration(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.duration = d
		}
	}
}

// NewRegistry constructs an empty registry. Prepare must be called before
// events published on the layers channel reach it.
func NewRegistry(channels *eventbus.Channels, renderer domain.Renderer, notifier domain.Notifier, opts ...RegistryOption) *Registry {
	r := &Registry{
		channels: channels,
		renderer: renderer,
		notifier: notifier,
		logger:   slog.Default(),
		duration: DefaultNotifyDuration,
		layers:   make(map[domain.Stamp]domain.Layer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prepare subscribes the registry to file:added and layer:removed requests
// on the layers channel. It is meant to be called once; every extra call
// registers another pair of handlers, so each request is then handled
// more than once.
func (r *Registry) Prepare() {
	r.mu.Lock()
	r.prepared++
	n := r.prepared
	r.mu.Unlock()
	if n > 1 {
		r.logger.Warn("Registry prepared more than once; requests will be handled repeatedly.", "prepared", n)
	}

	eventbus.On(r.channels.Layers, func(ctx context.Context, ev eventbus.FileAdded) {
		// failures are reported to the user by Add itself
		_, _ = r.Add(ctx, ev)
	})
	eventbus.On(r.channels.Layers, func(ctx context.Context, ev eventbus.LayerRemoved) {
		r.Remove(ctx, ev.ID)
	})
}

// Add turns a file payload into a layer, stores it and announces it to the
// layer list and the map surface. A renderer failure yields a
// *domain.LayerCreationError and leaves the registry untouched.
func (r *Registry) Add(ctx context.Context, ev eventbus.FileAdded) (domain.Layer, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	name := domain.StripExtension(ev.File.Name)
	layer, err := r.build(ctx, name, ev)
	if err != nil {
		r.logger.Error("Failed to create layer.", "file", ev.File.Name, "error", err)
		if r.metrics != nil {
			r.metrics.CreationFailures.Inc()
		}
		r.notify(domain.NotifyError, fmt.Sprintf("%s could not be added", name))
		return domain.Layer{}, err
	}

	r.mu.Lock()
	_, dup := r.layers[layer.ID]
	r.layers[layer.ID] = layer
	size := len(r.layers)
	r.mu.Unlock()

	if dup {
		r.logger.Warn("Layer id already registered; overwriting.", "id", layer.ID, "name", name, "error", domain.ErrDuplicateStamp)
		if r.metrics != nil {
			r.metrics.DuplicateStamps.Inc()
		}
	}
	if r.metrics != nil {
		r.metrics.LayersActive.Set(float64(size))
	}
	r.logger.Info("Layer added.", "id", layer.ID, "name", name, "features", layer.Renderable.FeatureCount())

	r.notify(domain.NotifySuccess, fmt.Sprintf("%s has been added!", name))

	added := eventbus.LayerAdded{Layer: layer}
	r.publish(ctx, r.channels.LayerList, added)
	r.publish(ctx, r.channels.Map, added)
	return layer, nil
}

func (r *Registry) build(ctx context.Context, name string, ev eventbus.FileAdded) (domain.Layer, error) {
	rd, err := r.renderer.MakeRenderable(ctx, ev.Raw)
	if err != nil {
		return domain.Layer{}, &domain.LayerCreationError{Name: ev.File.Name, Err: err}
	}
	if rd == nil {
		return domain.Layer{}, &domain.LayerCreationError{Name: ev.File.Name, Err: errors.New("renderer returned no renderable")}
	}
	id := r.renderer.StampOf(rd)
	if id == "" {
		return domain.Layer{}, &domain.LayerCreationError{Name: ev.File.Name, Err: errors.New("renderable has no stamp")}
	}
	return domain.Layer{
		ID:         id,
		Name:       name,
		Raw:        append([]byte(nil), ev.Raw...),
		Renderable: rd,
		CreatedAt:  ev.File.LastModified,
	}, nil
}

// Remove announces the removal of id to the map surface, the layer list and
// the selection, in that order, and then deletes the record. Removing an
// unknown id still announces it.
func (r *Registry) Remove(ctx context.Context, id domain.Stamp) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	removed := eventbus.LayerRemoved{ID: id}
	r.publish(ctx, r.channels.Map, removed)
	r.publish(ctx, r.channels.LayerList, removed)
	r.publish(ctx, r.channels.Selection, removed)

	r.mu.Lock()
	_, ok := r.layers[id]
	delete(r.layers, id)
	size := len(r.layers)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.LayersActive.Set(float64(size))
	}
	if ok {
		r.logger.Info("Layer removed.", "id", id)
	} else {
		r.logger.Debug("Removal of unknown layer.", "id", id)
	}
}

// Lookup returns a copy of the layer stored under id.
func (r *Registry) Lookup(id domain.Stamp) (domain.Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.layers[id]
	if !ok {
		return domain.Layer{}, false
	}
	return l.Clone(), true
}

// Get is Lookup with an error wrapping domain.ErrLayerNotFound for unknown ids.
func (r *Registry) Get(id domain.Stamp) (domain.Layer, error) {
	l, ok := r.Lookup(id)
	if !ok {
		return domain.Layer{}, fmt.Errorf("%w: %s", domain.ErrLayerNotFound, id)
	}
	return l, nil
}

// List returns copies of all layers ordered by creation time, then id.
// Numeric ids compare as numbers, so sequence stamps keep their order.
func (r *Registry) List() []domain.Layer {
	r.mu.RLock()
	out := make([]domain.Layer, 0, len(r.layers))
	for _, l := range r.layers {
		out = append(out, l.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return stampLess(out[i].ID, out[j].ID)
	})
	return out
}

func stampLess(a, b domain.Stamp) bool {
	na, errA := strconv.ParseUint(string(a), 10, 64)
	nb, errB := strconv.ParseUint(string(b), 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// Len reports the number of stored layers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.layers)
}

func (r *Registry) notify(level domain.NotifyLevel, msg string) {
	if r.notifier != nil {
		r.notifier.Notify(level, msg, r.duration)
	}
}

func (r *Registry) publish(ctx context.Context, bus *eventbus.Bus, ev eventbus.Event) {
	if err := bus.Publish(ctx, ev); err != nil {
		r.logger.Error("Failed to publish layer event.", "bus", bus.Name(), "topic", ev.Topic(), "error", err)
		return
	}
	if r.metrics != nil {
		r.metrics.LayerEvents.WithLabelValues(string(ev.Topic())).Inc()
	}
}
