// Package eventbus provides the synchronous publish/subscribe channels that
// connect the layer registry with the map surface, the layer list and the
// selection subsystem.
//
// Publish invokes every subscriber registered for the event's topic, in
// registration order, before it returns. Observers can therefore rely on
// having been notified before the publisher continues.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives events for a topic.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus is one named event channel.
type Bus struct {
	name    string
	logger  *slog.Logger
	onPanic func(bus string, topic Topic)

	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for subscriber failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithPanicHook registers a callback invoked after a subscriber panic has
// been recovered.
func WithPanicHook(fn func(bus string, topic Topic)) Option {
	return func(b *Bus) { b.onPanic = fn }
}

// New constructs an empty bus.
func New(name string, opts ...Option) *Bus {
	b := &Bus{
		name:   name,
		logger: slog.Default(),
		subs:   make(map[Topic][]subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("bus", name)
	return b
}

// Name returns the channel name.
func (b *Bus) Name() string { return b.name }

// Subscribe appends fn to the subscribers of topic and returns a function
// removing it again. Subscribing the same function twice delivers every
// event twice.
func (b *Bus) Subscribe(topic Topic, fn Handler) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[topic] = next
			return
		}
	}
}

// Subscribers reports how many handlers are registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Publish validates ev and delivers it synchronously to the current
// subscribers of its topic. Subscribers added or removed while a publish is
// in flight take effect from the next publish.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event on %s", ErrInvalidEvent, b.name)
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	topic := ev.Topic()

	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, topic, s, ev)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, topic Topic, s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked.", "topic", topic, "subscriber", s.id, "panic", r)
			if b.onPanic != nil {
				b.onPanic(b.name, topic)
			}
		}
	}()
	s.fn(ctx, ev)
}

// On subscribes a handler typed to a concrete event payload.
func On[T Event](b *Bus, fn func(ctx context.Context, ev T)) (unsubscribe func()) {
	var zero T
	return b.Subscribe(zero.Topic(), func(ctx context.Context, ev Event) {
		if typed, ok := ev.(T); ok {
			fn(ctx, typed)
		}
	})
}
