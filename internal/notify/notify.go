// Package notify delivers user-facing pantry alerts.
//
// Delivery is best-effort everywhere: when the capability is missing or
// permission is not granted, Show returns a nil handle and nothing else
// happens.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erazemk/shramba/internal/model"
)

// AutoDismiss is how long transient notifications stay visible.
const AutoDismiss = 5 * time.Second

// Notification is one alert.
type Notification struct {
	ID                 string
	Title              string
	Body               string
	Tag                string
	RequireInteraction bool
	// Timeout overrides AutoDismiss for transient notifications.
	Timeout time.Duration
}

// Gateway delivers notifications to the owner of a namespace.
type Gateway interface {
	// Supported reports whether the gateway can deliver anything at all.
	Supported() bool
	// RequestPermission asks for permission when it was never answered and
	// reports whether notifications are granted.
	RequestPermission(ctx context.Context, namespace string) bool
	// Show delivers n. It returns nil when nothing was shown.
	Show(ctx context.Context, namespace string, n Notification) *Handle
}

// Handle refers to a shown notification.
type Handle struct {
	ID string

	once    sync.Once
	onClose func()
}

func newHandle(id string, onClose func()) *Handle {
	return &Handle{ID: id, onClose: onClose}
}

// Close dismisses the notification. It is safe to call more than once and
// on a nil handle.
func (h *Handle) Close() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.onClose != nil {
			h.onClose()
		}
	})
}

// LowStock builds the transient alert shown when an item was put on the
// shopping list automatically.
func LowStock(name string, quantity model.Quantity, unit string) Notification {
	return Notification{
		Title: "🔔 Low Stock Alert - AnnaPurna",
		Body: fmt.Sprintf("%s is running low (%s %s remaining). Added to shopping list automatically.",
			name, quantity, unit),
		Tag:     "low-stock-" + name,
		Timeout: AutoDismiss,
	}
}

// ExpirationReminder builds the sticky reminder for an item that expires
// in daysLeft days.
func ExpirationReminder(item model.PantryItem, daysLeft int) Notification {
	var body string
	switch {
	case daysLeft == 0:
		body = fmt.Sprintf("%s expires today!", item.Name)
	case daysLeft == 1:
		body = fmt.Sprintf("%s expires in 1 day", item.Name)
	default:
		body = fmt.Sprintf("%s expires in %d days", item.Name, daysLeft)
	}
	return Notification{
		Title:              "⏰ AnnaPurna Expiration Reminder",
		Body:               body,
		Tag:                "expiry-" + item.ID,
		RequireInteraction: true,
	}
}

// Nop is a gateway for hosts without notifications.
type Nop struct{}

func (Nop) Supported() bool                                    { return false }
func (Nop) RequestPermission(context.Context, string) bool     { return false }
func (Nop) Show(context.Context, string, Notification) *Handle { return nil }

// Multi fans notifications out to several gateways.
type Multi []Gateway

// Supported reports whether any gateway is supported.
func (m Multi) Supported() bool {
	for _, g := range m {
		if g.Supported() {
			return true
		}
	}
	return false
}

// RequestPermission asks every supported gateway and reports whether any
// of them granted.
func (m Multi) RequestPermission(ctx context.Context, namespace string) bool {
	granted := false
	for _, g := range m {
		if g.Supported() && g.RequestPermission(ctx, namespace) {
			granted = true
		}
	}
	return granted
}

// Show delivers n through every gateway. The returned handle closes all
// deliveries.
func (m Multi) Show(ctx context.Context, namespace string, n Notification) *Handle {
	var shown []*Handle
	for _, g := range m {
		if h := g.Show(ctx, namespace, n); h != nil {
			shown = append(shown, h)
		}
	}
	if len(shown) == 0 {
		return nil
	}
	return newHandle(shown[0].ID, func() {
		for _, h := range shown {
			h.Close()
		}
	})
}
