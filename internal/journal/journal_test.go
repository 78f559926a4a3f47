package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"layerdeck/internal/config"
	"layerdeck/internal/eventbus"
	"layerdeck/internal/logging"
	"layerdeck/pkg/domain"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.JournalConfig{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, config.JournalConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "j.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.JournalConfig{Driver: "mongo"})
	require.ErrorContains(t, err, "unknown journal driver")
}

func TestJournalRecordsLayerListTraffic(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			store, err := Open(ctx, config.JournalConfig{Driver: driver, SQLitePath: filepath.Join(t.TempDir(), "j.db")})
			require.NoError(t, err)

			clock := clockwork.NewFakeClockAt(time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC))
			j := New(store, WithClock(clock), WithLogger(logging.Discard()))
			t.Cleanup(func() { _ = j.Close() })
			bus := eventbus.New(eventbus.ChannelLayerList)
			j.Attach(bus)

			require.NoError(t, bus.Publish(ctx, eventbus.LayerAdded{Layer: domain.Layer{ID: "1", Name: "parks"}}))
			clock.Advance(time.Minute)
			require.NoError(t, bus.Publish(ctx, eventbus.LayerRemoved{ID: "1"}))

			entries, err := j.Entries(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, domain.JournalLayerAdded, entries[0].Event)
			assert.Equal(t, domain.Stamp("1"), entries[0].Stamp)
			assert.Equal(t, "parks", entries[0].Name)
			assert.Equal(t, domain.JournalLayerRemoved, entries[1].Event)
			assert.Equal(t, time.Minute, entries[1].RecordedAt.Sub(entries[0].RecordedAt))
			for _, e := range entries {
				_, err := uuid.Parse(e.ID)
				assert.NoError(t, err)
			}
		})
	}
}

func TestJournalSurvivesCancelledContext(t *testing.T) {
	j := New(nil)
	store, err := Open(context.Background(), config.JournalConfig{})
	require.NoError(t, err)
	j.store = store
	bus := eventbus.New(eventbus.ChannelLayerList)
	j.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Publish(ctx, eventbus.LayerRemoved{ID: "7"}))

	entries, err := j.Entries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type brokenStore struct{ domain.JournalStore }

func (brokenStore) Append(context.Context, domain.JournalEntry) error { return errors.New("read-only") }

func TestJournalFailuresDoNotPropagate(t *testing.T) {
	j := New(brokenStore{}, WithLogger(logging.Discard()))
	bus := eventbus.New(eventbus.ChannelLayerList)
	j.Attach(bus)
	var later bool
	eventbus.On(bus, func(context.Context, eventbus.LayerRemoved) { later = true })

	require.NoError(t, bus.Publish(context.Background(), eventbus.LayerRemoved{ID: "1"}))
	assert.True(t, later)

	j.Detach()
	assert.Equal(t, 1, bus.Subscribers(eventbus.TopicLayerRemoved))
}
