// Package notify implements the user notification collaborator: short-lived
// toasts written to the log and kept in a bounded feed for the HTTP surface.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"layerdeck/pkg/domain"
)

// Notification is a toast as shown to the user.
type Notification struct {
	Level      domain.NotifyLevel `json:"level"`
	Message    string             `json:"message"`
	Duration   time.Duration      `json:"-"`
	DurationMS int64              `json:"duration_ms"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Logger writes notifications to a slog logger.
type Logger struct {
	logger *slog.Logger
}

// NewLogger wraps logger.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Notify implements domain.Notifier.
func (l *Logger) Notify(level domain.NotifyLevel, message string, duration time.Duration) {
	lvl := slog.LevelInfo
	switch level {
	case domain.NotifyWarn:
		lvl = slog.LevelWarn
	case domain.NotifyError:
		lvl = slog.LevelError
	}
	l.logger.Log(context.Background(), lvl, message, "notify_level", string(level), "duration", duration)
}

// Feed keeps the most recent notifications in arrival order.
type Feed struct {
	mu    sync.Mutex
	clock clockwork.Clock
	size  int
	items []Notification
}

// NewFeed returns a feed keeping at most size notifications.
func NewFeed(size int, clock clockwork.Clock) *Feed {
	if size <= 0 {
		size = 50
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Feed{size: size, clock: clock}
}

// Notify implements domain.Notifier.
func (f *Feed) Notify(level domain.NotifyLevel, message string, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, Notification{
		Level:      level,
		Message:    message,
		Duration:   duration,
		DurationMS: duration.Milliseconds(),
		CreatedAt:  f.clock.Now().UTC(),
	})
	if over := len(f.items) - f.size; over > 0 {
		f.items = append([]Notification(nil), f.items[over:]...)
	}
}

// Recent returns a copy of the retained notifications, oldest first.
func (f *Feed) Recent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Active returns the notifications whose display duration has not elapsed.
func (f *Feed) Active() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	var out []Notification
	for _, n := range f.items {
		if now.Before(n.CreatedAt.Add(n.Duration)) {
			out = append(out, n)
		}
	}
	return out
}

// Multi fans a notification out to several notifiers.
type Multi []domain.Notifier

// Notify implements domain.Notifier.
func (m Multi) Notify(level domain.NotifyLevel, message string, duration time.Duration) {
	for _, n := range m {
		if n != nil {
			n.Notify(level, message, duration)
		}
	}
}

// Recorder keeps every notification it receives. It is meant for tests.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements domain.Notifier.
func (r *Recorder) Notify(level domain.NotifyLevel, message string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Notification{Level: level, Message: message, Duration: duration, DurationMS: duration.Milliseconds()})
}

// Notifications returns a copy of the recorded notifications.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

var (
	_ domain.Notifier = (*Recorder)(nil)
	_ domain.Notifier = (*Logger)(nil)
	_ domain.Notifier = (*Feed)(nil)
	_ domain.Notifier = Multi(nil)
)
