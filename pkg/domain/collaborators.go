package domain

import (
	"context"
	"time"
)

// Renderer is the rendering collaborator: it turns raw payloads into drawable
// handles and stamps those handles with process-unique identifiers.
type Renderer interface {
	MakeRenderable(ctx context.Context, raw []byte) (Renderable, error)
	// StampOf returns the same stamp every time it is called with the same
	// handle and never returns a stamp handed out for another handle.
	StampOf(r Renderable) Stamp
}

// NotifyLevel classifies a user-visible notification.
type NotifyLevel string

// Notification levels understood by notifiers.
const (
	NotifySuccess NotifyLevel = "success"
	NotifyInfo    NotifyLevel = "info"
	NotifyWarn    NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
)

// Notifier surfaces short-lived messages to the user. Notify is fire and
// forget; implementations must not block or panic.
type Notifier interface {
	Notify(level NotifyLevel, message string, duration time.Duration)
}
