// Package sqlite persists journal entries in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"layerdeck/pkg/domain"
)

var _ domain.JournalStore = (*Store)(nil)

const defaultPath = "layerdeck-journal.db"

// Store appends journal rows to a single table. Timestamps are stored as
// RFC 3339 text with nanoseconds.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the journal database at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps appends ordered and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS journal (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		event TEXT NOT NULL,
		stamp TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}
	return &Store{db: db}, nil
}

// Append inserts e.
func (s *Store) Append(ctx context.Context, e domain.JournalEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal(id, event, stamp, name, recorded_at) VALUES(?,?,?,?,?)`,
		e.ID, string(e.Event), string(e.Stamp), e.Name, e.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Entries returns all rows ordered by insertion.
func (s *Store) Entries(ctx context.Context) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, event, stamp, name, recorded_at FROM journal ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select journal: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.JournalEntry
	for rows.Next() {
		var (
			e            domain.JournalEntry
			event, stamp string
			recorded     string
		)
		if err := rows.Scan(&e.ID, &event, &stamp, &e.Name, &recorded); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.Event, e.Stamp = domain.JournalEvent(event), domain.Stamp(stamp)
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recorded, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
