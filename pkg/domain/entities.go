// Package domain defines the layer record, the file descriptor handed over by
// import sources, and the collaborator contracts the layer registry depends on.
package domain

import (
	"path"
	"strings"
	"time"
)

// Stamp is the opaque identifier assigned to a layer by the stamping
// facility. Stamps are unique for the lifetime of a process and never reused.
type Stamp string

// String implements fmt.Stringer.
func (s Stamp) String() string { return string(s) }

// FileDescriptor describes the user-selected source file of a layer.
type FileDescriptor struct {
	Name         string    `json:"name"`
	LastModified time.Time `json:"last_modified"`
	ContentType  string    `json:"content_type,omitempty"`
	Size         int64     `json:"size,omitempty"`
}

// Renderable is the drawable representation of a layer payload. The registry
// stores it without looking inside; only the renderer and the map surface
// know the concrete type.
type Renderable interface {
	FeatureCount() int
}

// Layer is an immutable record wrapping one imported geographic dataset.
type Layer struct {
	ID         Stamp      `json:"id"`
	Name       string     `json:"name"`
	Raw        []byte     `json:"-"`
	Renderable Renderable `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Summary is the lightweight projection of a layer used by list views and
// the HTTP surface.
type Summary struct {
	ID        Stamp     `json:"id"`
	Name      string    `json:"name"`
	Features  int       `json:"features"`
	Size      int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary projects the layer into its list representation.
func (l Layer) Summary() Summary {
	s := Summary{ID: l.ID, Name: l.Name, Size: len(l.Raw), CreatedAt: l.CreatedAt}
	if l.Renderable != nil {
		s.Features = l.Renderable.FeatureCount()
	}
	return s
}

// Clone returns a copy whose raw payload does not alias the receiver's.
func (l Layer) Clone() Layer {
	cp := l
	if l.Raw != nil {
		cp.Raw = append([]byte(nil), l.Raw...)
	}
	return cp
}

// StripExtension removes the final extension from a file name:
// "coastline.geojson" becomes "coastline" and "a.b.json" becomes "a.b".
// Names without an extension are returned unchanged.
func StripExtension(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
