// Package postgres persists journal entries in PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"layerdeck/pkg/domain"
)

var _ domain.JournalStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/layerdeck?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the sql.Open function used by NewStore and returns
// a func restoring the previous one. Tests use it to inject a stub driver.
func OverrideSQLOpen(fn func(driver, dsn string) (*sql.DB, error)) (restore func()) {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

// Store appends journal rows to the layer_journal table.
type Store struct {
	db *sql.DB
}

// NewStore connects to dsn (falls back to defaultDSN) and ensures the
// journal table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS layer_journal (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		event TEXT NOT NULL,
		stamp TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure journal table: %w", err)
	}
	return &Store{db: db}, nil
}

// Append inserts e.
func (s *Store) Append(ctx context.Context, e domain.JournalEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO layer_journal (id, event, stamp, name, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, string(e.Event), string(e.Stamp), e.Name, e.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Entries returns all rows ordered by insertion.
func (s *Store) Entries(ctx context.Context) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, event, stamp, name, recorded_at FROM layer_journal ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select journal: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.JournalEntry
	for rows.Next() {
		var (
			e            domain.JournalEntry
			event, stamp string
		)
		if err := rows.Scan(&e.ID, &event, &stamp, &e.Name, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.Event, e.Stamp = domain.JournalEvent(event), domain.Stamp(stamp)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }
