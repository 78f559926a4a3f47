// Package memory keeps journal entries in process memory.
package memory

import (
	"context"
	"sync"

	"layerdeck/pkg/domain"
)

var _ domain.JournalStore = (*Store)(nil)

// Store is an append-only in-memory journal.
type Store struct {
	mu      sync.RWMutex
	entries []domain.JournalEntry
}

// NewStore returns an empty journal.
func NewStore() *Store { return &Store{} }

// Append records e.
func (s *Store) Append(ctx context.Context, e domain.JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

// Entries returns a copy of the journal.
func (s *Store) Entries(_ context.Context) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.JournalEntry(nil), s.entries...), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
