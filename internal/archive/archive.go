// Package archive mirrors the raw payload of every live layer into a blob
// store so it can be downloaded again. It observes the map channel and
// never feeds anything back into the registry.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"layerdeck/internal/blob"
	"layerdeck/internal/eventbus"
	"layerdeck/internal/metrics"
	"layerdeck/pkg/domain"
)

const (
	keyPrefix   = "layers/"
	contentType = "application/geo+json"

	// MetaName and MetaCreatedAt are the blob metadata keys set on archived payloads.
	MetaName      = "layer-name"
	MetaCreatedAt = "created-at"
)

// Archive stores raw layer payloads under layers/<id>/<name>.geojson.
type Archive struct {
	store   blob.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	unsub   []func()
}

// New returns an archive writing to store. It does nothing until Attach.
func New(store blob.Store, logger *slog.Logger, m *metrics.Metrics) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{store: store, logger: logger.With("component", "archive"), metrics: m}
}

// Key returns the blob key of a layer payload.
func Key(id domain.Stamp, name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		name = "layer"
	}
	return keyPrefix + id.String() + "/" + name + ".geojson"
}

func idPrefix(id domain.Stamp) string { return keyPrefix + id.String() + "/" }

// Attach subscribes the archive to layer notifications on bus.
func (a *Archive) Attach(bus *eventbus.Bus) {
	a.unsub = append(a.unsub,
		eventbus.On(bus, func(ctx context.Context, ev eventbus.LayerAdded) {
			// the layer is live even when the publishing request was cancelled
			if err := a.Put(context.WithoutCancel(ctx), ev.Layer); err != nil {
				a.failed("put", ev.Layer.ID, err)
			}
		}),
		eventbus.On(bus, func(ctx context.Context, ev eventbus.LayerRemoved) {
			if err := a.Delete(context.WithoutCancel(ctx), ev.ID); err != nil {
				a.failed("delete", ev.ID, err)
			}
		}),
	)
}

// Detach removes the subscriptions made by Attach.
func (a *Archive) Detach() {
	for _, fn := range a.unsub {
		fn()
	}
	a.unsub = nil
}

// Put archives the raw payload of layer.
func (a *Archive) Put(ctx context.Context, layer domain.Layer) error {
	md := map[string]string{MetaName: layer.Name}
	if !layer.CreatedAt.IsZero() {
		md[MetaCreatedAt] = layer.CreatedAt.UTC().Format(time.RFC3339)
	}
	info, err := a.store.Put(ctx, Key(layer.ID, layer.Name), bytes.NewReader(layer.Raw), blob.PutOptions{
		ContentType: contentType,
		Metadata:    md,
	})
	if err != nil {
		return err
	}
	a.logger.Debug("Archived layer payload.", "id", layer.ID, "key", info.Key, "size", info.Size)
	return nil
}

// Delete drops every archived payload of id. A missing payload is not an error.
func (a *Archive) Delete(ctx context.Context, id domain.Stamp) error {
	infos, err := a.store.List(ctx, idPrefix(id))
	if err != nil {
		return err
	}
	for _, info := range infos {
		if _, err := a.store.Delete(ctx, info.Key); err != nil {
			return err
		}
	}
	return nil
}

// Open returns the archived payload of id. The caller closes the reader.
func (a *Archive) Open(ctx context.Context, id domain.Stamp) (blob.Info, io.ReadCloser, error) {
	infos, err := a.store.List(ctx, idPrefix(id))
	if err != nil {
		return blob.Info{}, nil, err
	}
	if len(infos) == 0 {
		return blob.Info{}, nil, fmt.Errorf("%w: layer %s", blob.ErrNotFound, id)
	}
	return a.store.Get(ctx, infos[0].Key)
}

func (a *Archive) failed(op string, id domain.Stamp, err error) {
	a.logger.Error("Archive operation failed.", "operation", op, "id", id, "error", err)
	if a.metrics != nil {
		a.metrics.ArchiveErrors.WithLabelValues(op).Inc()
	}
}
