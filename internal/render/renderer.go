// Package render is the rendering collaborator of the layer registry. It
// decodes GeoJSON payloads into feature layers and stamps each feature layer
// with a process-unique identifier.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"layerdeck/pkg/domain"
)

// Strategy selects how stamps are minted.
type Strategy string

const (
	// StrategySequence hands out increasing integers, starting at 1.
	StrategySequence Strategy = "sequence"
	// StrategyUUID hands out random v4 UUIDs.
	StrategyUUID Strategy = "uuid"
)

// ErrEmptyPayload is returned for zero-length payloads.
var ErrEmptyPayload = errors.New("empty payload")

// Handle carries the stamp of a renderable. Renderables embed it so that
// StampOf can assign the stamp once and return it on every later call.
type Handle struct {
	once  sync.Once
	stamp domain.Stamp
}

func (h *Handle) handle() *Handle { return h }

type stampable interface {
	handle() *Handle
}

// FeatureLayer is the drawable form of a GeoJSON payload.
type FeatureLayer struct {
	Handle
	kind     string
	features int
	bound    orb.Bound
	bounded  bool
}

// FeatureCount implements domain.Renderable.
func (f *FeatureLayer) FeatureCount() int { return f.features }

// Kind returns the GeoJSON type of the payload the layer was built from.
func (f *FeatureLayer) Kind() string { return f.kind }

// Bound returns the bounding box of all geometries, if any had coordinates.
func (f *FeatureLayer) Bound() (orb.Bound, bool) { return f.bound, f.bounded }

func (f *FeatureLayer) extend(g orb.Geometry) {
	if g == nil {
		return
	}
	b := g.Bound()
	if !f.bounded {
		f.bound, f.bounded = b, true
		return
	}
	f.bound = f.bound.Union(b)
}

// Renderer builds feature layers and stamps them.
type Renderer struct {
	strategy Strategy
	seq      atomic.Uint64
}

// NewRenderer returns a renderer using the given stamp strategy. Unknown
// strategies fall back to StrategySequence.
func NewRenderer(strategy Strategy) *Renderer {
	if strategy != StrategyUUID {
		strategy = StrategySequence
	}
	return &Renderer{strategy: strategy}
}

var _ domain.Renderer = (*Renderer)(nil)

// MakeRenderable decodes raw as a GeoJSON FeatureCollection, Feature or
// bare geometry.
func (r *Renderer) MakeRenderable(ctx context.Context, raw []byte) (domain.Renderable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	layer := &FeatureLayer{kind: head.Type}
	switch head.Type {
	case "":
		return nil, fmt.Errorf("decode geojson: missing type")
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("decode feature collection: %w", err)
		}
		layer.features = len(fc.Features)
		for _, f := range fc.Features {
			layer.extend(f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("decode feature: %w", err)
		}
		layer.features = 1
		layer.extend(f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("decode geometry: %w", err)
		}
		layer.features = 1
		layer.extend(g.Geometry())
	}
	return layer, nil
}

// StampOf returns the stamp of a renderable built by this package, minting
// it on first use. Renderables that do not embed Handle, and nil pointers,
// yield the empty stamp.
func (r *Renderer) StampOf(rd domain.Renderable) domain.Stamp {
	s, ok := rd.(stampable)
	if !ok || isNilPointer(s) {
		return ""
	}
	h := s.handle()
	h.once.Do(func() { h.stamp = r.mint() })
	return h.stamp
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil())
}

func (r *Renderer) mint() domain.Stamp {
	if r.strategy == StrategyUUID {
		return domain.Stamp(uuid.NewString())
	}
	return domain.Stamp(strconv.FormatUint(r.seq.Add(1), 10))
}
