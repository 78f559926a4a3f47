package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietBus(name string, opts ...Option) *Bus {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(name, opts...)
}

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := quietBus("test")
	var got []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		b.Subscribe(TopicLayerRemoved, func(context.Context, Event) { got = append(got, name) })
	}

	require.NoError(t, b.Publish(context.Background(), LayerRemoved{ID: "1"}))
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestPublishIsSynchronous(t *testing.T) {
	b := quietBus("test")
	delivered := false
	b.Subscribe(TopicLayerRemoved, func(context.Context, Event) { delivered = true })

	require.NoError(t, b.Publish(context.Background(), LayerRemoved{ID: "1"}))
	assert.True(t, delivered, "subscriber must have run before Publish returned")
}

func TestPublishRoutesByTopic(t *testing.T) {
	b := quietBus("test")
	var added, removed int
	b.Subscribe(TopicLayerAdded, func(context.Context, Event) { added++ })
	b.Subscribe(TopicLayerRemoved, func(context.Context, Event) { removed++ })

	require.NoError(t, b.Publish(context.Background(), LayerRemoved{ID: "9"}))
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, removed)
}

func TestPublishRejectsInvalidEvents(t *testing.T) {
	b := quietBus("test")
	called := false
	b.Subscribe(TopicFileAdded, func(context.Context, Event) { called = true })
	b.Subscribe(TopicLayerAdded, func(context.Context, Event) { called = true })
	b.Subscribe(TopicLayerRemoved, func(context.Context, Event) { called = true })

	ctx := context.Background()
	require.ErrorIs(t, b.Publish(ctx, nil), ErrInvalidEvent)
	require.ErrorIs(t, b.Publish(ctx, FileAdded{Raw: []byte("{}")}), ErrInvalidEvent)
	require.ErrorIs(t, b.Publish(ctx, LayerAdded{}), ErrInvalidEvent)
	require.ErrorIs(t, b.Publish(ctx, LayerRemoved{}), ErrInvalidEvent)
	assert.False(t, called)
}

func TestUnsubscribe(t *testing.T) {
	b := quietBus("test")
	count := 0
	unsubscribe := b.Subscribe(TopicLayerRemoved, func(context.Context, Event) { count++ })
	require.Equal(t, 1, b.Subscribers(TopicLayerRemoved))

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, b.Subscribers(TopicLayerRemoved))

	require.NoError(t, b.Publish(context.Background(), LayerRemoved{ID: "1"}))
	assert.Zero(t, count)
}

func TestDuplicateSubscriptionDeliversTwice(t *testing.T) {
	b := quietBus("test")
	count := 0
	h := func(context.Context, Event) { count++ }
	b.Subscribe(TopicLayerRemoved, h)
	b.Subscribe(TopicLayerRemoved, h)

	require.NoError(t, b.Publish(context.Background(), LayerRemoved{ID: "1"}))
	assert.Equal(t, 2, count)
}

func TestSubscriberPanicIsContained(t *testing.T) {
	var panics []Topic
	b := quietBus("map", WithPanicHook(func(bus string, topic Topic) {
		assert.Equal(t, "map", bus)
		panics = append(panics, topic)
	}))
	reached := false
	b.Subscribe(TopicLayerRemoved, func(context.Context, Event) { panic("boom") })
	b.Subscribe(TopicLayerRemoved, func(context.Context, Event) { reached = true })

	require.NoError(t, b.Publish(context.Background(), LayerRemoved{ID: "1"}))
	assert.True(t, reached, "later subscribers still run after a panic")
	assert.Equal(t, []Topic{TopicLayerRemoved}, panics)
}

func TestOnFiltersByType(t *testing.T) {
	b := quietBus("test")
	var ids []string
	On(b, func(_ context.Context, ev LayerRemoved) { ids = append(ids, ev.ID.String()) })

	require.NoError(t, b.Publish(context.Background(), LayerRemoved{ID: "a"}))
	require.NoError(t, b.Publish(context.Background(), LayerRemoved{ID: "b"}))
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestSubscribeDuringPublishTakesEffectNextTime(t *testing.T) {
	b := quietBus("test")
	late := 0
	b.Subscribe(TopicLayerRemoved, func(context.Context, Event) {
		b.Subscribe(TopicLayerRemoved, func(context.Context, Event) { late++ })
	})

	require.NoError(t, b.Publish(context.Background(), LayerRemoved{ID: "1"}))
	assert.Zero(t, late)
	require.NoError(t, b.Publish(context.Background(), LayerRemoved{ID: "2"}))
	assert.Equal(t, 1, late)
}

func TestNewChannels(t *testing.T) {
	ch := NewChannels()
	assert.Equal(t, ChannelLayers, ch.Layers.Name())
	assert.Equal(t, ChannelLayerList, ch.LayerList.Name())
	assert.Equal(t, ChannelMap, ch.Map.Name())
	assert.Equal(t, ChannelSelection, ch.Selection.Name())
	assert.NotSame(t, ch.Map, ch.LayerList)
}
