package domain

import (
	"context"
	"time"
)

// JournalEvent names a journaled registry notification.
type JournalEvent string

const (
	JournalLayerAdded   JournalEvent = "layer:added"
	JournalLayerRemoved JournalEvent = "layer:removed"
)

// JournalEntry records one registry notification as seen by the layer list.
type JournalEntry struct {
	ID         string       `json:"id"`
	Event      JournalEvent `json:"event"`
	Stamp      Stamp        `json:"stamp"`
	Name       string       `json:"name,omitempty"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// JournalStore persists journal entries. Entries returns them in the order
// they were appended.
type JournalStore interface {
	Append(ctx context.Context, e JournalEntry) error
	Entries(ctx context.Context) ([]JournalEntry, error)
	Close() error
}
