// Package views holds the in-process observers of the layer registry: the
// map surface, the layer list and the selection. Each keeps its own state
// and is driven only by registry notifications.
package views

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"layerdeck/internal/eventbus"
	"layerdeck/pkg/domain"
)

// MapSurface keeps the renderables of the layers currently drawn.
type MapSurface struct {
	mu      sync.RWMutex
	visible map[domain.Stamp]domain.Renderable
	unsub   []func()
}

// NewMapSurface subscribes a map surface to bus.
func NewMapSurface(bus *eventbus.Bus) *MapSurface {
	m := &MapSurface{visible: make(map[domain.Stamp]domain.Renderable)}
	m.unsub = append(m.unsub,
		eventbus.On(bus, func(_ context.Context, ev eventbus.LayerAdded) {
			m.mu.Lock()
			m.visible[ev.Layer.ID] = ev.Layer.Renderable
			m.mu.Unlock()
		}),
		eventbus.On(bus, func(_ context.Context, ev eventbus.LayerRemoved) {
			m.mu.Lock()
			delete(m.visible, ev.ID)
			m.mu.Unlock()
		}),
	)
	return m
}

// Renderable returns the drawn handle for id.
func (m *MapSurface) Renderable(id domain.Stamp) (domain.Renderable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rd, ok := m.visible[id]
	return rd, ok
}

// Visible returns the ids currently drawn, sorted.
func (m *MapSurface) Visible() []domain.Stamp {
	m.mu.RLock()
	out := make([]domain.Stamp, 0, len(m.visible))
	for id := range m.visible {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close unsubscribes the surface.
func (m *MapSurface) Close() {
	for _, fn := range m.unsub {
		fn()
	}
}

// Entry is one row of the layer list.
type Entry struct {
	ID        domain.Stamp `json:"id"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
}

// LayerList keeps one entry per layer, in arrival order.
type LayerList struct {
	mu      sync.RWMutex
	entries []Entry
	unsub   []func()
}

// NewLayerList subscribes a layer list to bus.
func NewLayerList(bus *eventbus.Bus) *LayerList {
	l := &LayerList{}
	l.unsub = append(l.unsub,
		eventbus.On(bus, func(_ context.Context, ev eventbus.LayerAdded) {
			l.mu.Lock()
			defer l.mu.Unlock()
			entry := Entry{ID: ev.Layer.ID, Name: ev.Layer.Name, CreatedAt: ev.Layer.CreatedAt}
			for i := range l.entries {
				if l.entries[i].ID == entry.ID {
					l.entries[i] = entry
					return
				}
			}
			l.entries = append(l.entries, entry)
		}),
		eventbus.On(bus, func(_ context.Context, ev eventbus.LayerRemoved) {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i := range l.entries {
				if l.entries[i].ID == ev.ID {
					l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
					return
				}
			}
		}),
	)
	return l
}

// Entries returns a copy of the list.
func (l *LayerList) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Close unsubscribes the list.
func (l *LayerList) Close() {
	for _, fn := range l.unsub {
		fn()
	}
}

// Selection tracks the layers the user has selected. It forgets a layer as
// soon as the registry announces its removal.
type Selection struct {
	requests *eventbus.Bus
	logger   *slog.Logger

	mu       sync.RWMutex
	selected map[domain.Stamp]struct{}
	unsub    func()
}

// NewSelection subscribes a selection to notifications and sends removal
// requests to requests.
func NewSelection(notifications, requests *eventbus.Bus, logger *slog.Logger) *Selection {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selection{requests: requests, logger: logger, selected: make(map[domain.Stamp]struct{})}
	s.unsub = eventbus.On(notifications, func(_ context.Context, ev eventbus.LayerRemoved) {
		s.Deselect(ev.ID)
	})
	return s
}

// Select adds ids to the selection.
func (s *Selection) Select(ids ...domain.Stamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			s.selected[id] = struct{}{}
		}
	}
}

// Deselect drops ids from the selection.
func (s *Selection) Deselect(ids ...domain.Stamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.selected, id)
	}
}

// Selected returns the selected ids, sorted.
func (s *Selection) Selected() []domain.Stamp {
	s.mu.RLock()
	out := make([]domain.Stamp, 0, len(s.selected))
	for id := range s.selected {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequestRemoval asks the registry to remove every selected layer. It must
// not be called from inside a registry notification.
func (s *Selection) RequestRemoval(ctx context.Context) error {
	for _, id := range s.Selected() {
		if err := s.requests.Publish(ctx, eventbus.LayerRemoved{ID: id}); err != nil {
			return err
		}
		s.logger.Debug("Requested layer removal.", "id", id)
	}
	return nil
}

// Close unsubscribes the selection.
func (s *Selection) Close() { s.unsub() }
