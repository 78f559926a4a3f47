// Package journal records every notification the layer list receives from
// the registry. The journal is diagnostic only; it is never read back into
// the registry.
package journal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"layerdeck/internal/config"
	"layerdeck/internal/eventbus"
	"layerdeck/internal/infra/persistence/memory"
	"layerdeck/internal/infra/persistence/postgres"
	"layerdeck/internal/infra/persistence/sqlite"
	"layerdeck/pkg/domain"
)

// Driver identifies a journal storage backend.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Open selects a journal store from cfg. An empty driver means memory.
func Open(ctx context.Context, cfg config.JournalConfig) (domain.JournalStore, error) {
	switch Driver(cfg.Driver) {
	case DriverMemory, "":
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}

// Journal appends an entry per layer:added and layer:removed notification.
type Journal struct {
	store  domain.JournalStore
	clock  clockwork.Clock
	logger *slog.Logger
	unsub  []func()
}

// Option customises a Journal.
type Option func(*Journal)

// WithClock sets the clock used for RecordedAt.
func WithClock(c clockwork.Clock) Option { return func(j *Journal) { j.clock = c } }

// WithLogger sets the journal logger.
func WithLogger(l *slog.Logger) Option { return func(j *Journal) { j.logger = l } }

// New returns a journal writing to store.
func New(store domain.JournalStore, opts ...Option) *Journal {
	j := &Journal{store: store, clock: clockwork.NewRealClock(), logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Attach subscribes the journal to bus.
func (j *Journal) Attach(bus *eventbus.Bus) {
	j.unsub = append(j.unsub,
		eventbus.On(bus, func(ctx context.Context, ev eventbus.LayerAdded) {
			j.record(ctx, domain.JournalLayerAdded, ev.Layer.ID, ev.Layer.Name)
		}),
		eventbus.On(bus, func(ctx context.Context, ev eventbus.LayerRemoved) {
			j.record(ctx, domain.JournalLayerRemoved, ev.ID, "")
		}),
	)
}

// Detach removes the subscriptions made by Attach.
func (j *Journal) Detach() {
	for _, fn := range j.unsub {
		fn()
	}
	j.unsub = nil
}

func (j *Journal) record(ctx context.Context, event domain.JournalEvent, id domain.Stamp, name string) {
	e := domain.JournalEntry{
		ID:         uuid.NewString(),
		Event:      event,
		Stamp:      id,
		Name:       name,
		RecordedAt: j.clock.Now().UTC(),
	}
	// recorded even when the publishing request was cancelled
	if err := j.store.Append(context.WithoutCancel(ctx), e); err != nil {
		j.logger.Error("Failed to journal layer event.", "event", event, "id", id, "error", err)
	}
}

// Entries lists the journal in record order.
func (j *Journal) Entries(ctx context.Context) ([]domain.JournalEntry, error) {
	return j.store.Entries(ctx)
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	j.Detach()
	return j.store.Close()
}
