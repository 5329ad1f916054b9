package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/shramba/internal/model"
)

// Message types exchanged with connected clients.
const (
	TypeNotification      = "notification"
	TypeDismiss           = "dismiss"
	TypePermissionRequest = "permission-request"
)

// ShowMessage asks a client to display a notification.
type ShowMessage struct {
	Type               string `json:"type"`
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Body               string `json:"body"`
	Tag                string `json:"tag,omitempty"`
	RequireInteraction bool   `json:"requireInteraction"`
	TimeoutMs          int64  `json:"timeoutMs,omitempty"`
}

// DismissMessage asks a client to hide a notification.
type DismissMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Transport reaches the clients connected for a namespace.
type Transport interface {
	// Send delivers msg to every client of namespace and returns how many
	// clients received it.
	Send(namespace string, msg any) int
	// AskPermission prompts the clients of namespace and waits for the
	// first answer.
	AskPermission(ctx context.Context, namespace string) (model.Permission, error)
}

// PermissionStore persists the permission state of a namespace.
type PermissionStore interface {
	Permission(ctx context.Context, namespace string) (model.Permission, error)
	SetPermission(ctx context.Context, namespace string, p model.Permission) error
}

// Push shows notifications on connected browser clients.
type Push struct {
	transport Transport
	perms     PermissionStore

	// tagged serializes shows that carry a tag; mu guards byTag and the
	// dismiss timers and is the only lock Handle.Close takes.
	tagged sync.Mutex
	mu     sync.Mutex
	byTag  map[string]*Handle
}

// NewPush creates a gateway that delivers over t.
func NewPush(t Transport, perms PermissionStore) *Push {
	return &Push{
		transport: t,
		perms:     perms,
		byTag:     make(map[string]*Handle),
	}
}

// Supported reports whether a transport is configured.
func (p *Push) Supported() bool { return p.transport != nil }

// RequestPermission returns the stored decision, prompting connected
// clients when there is none yet.
func (p *Push) RequestPermission(ctx context.Context, namespace string) bool {
	if !p.Supported() {
		return false
	}
	current, err := p.perms.Permission(ctx, namespace)
	if err != nil {
		slog.Warn("reading notification permission", "namespace", namespace, "error", err)
	}
	switch current {
	case model.PermissionGranted:
		return true
	case model.PermissionDenied:
		return false
	}

	answer, err := p.transport.AskPermission(ctx, namespace)
	if err != nil {
		slog.Info("notification permission not answered", "namespace", namespace, "error", err)
		return false
	}
	if answer != model.PermissionDefault {
		if err := p.perms.SetPermission(ctx, namespace, answer); err != nil {
			slog.Warn("storing notification permission", "namespace", namespace, "error", err)
		}
	}
	return answer == model.PermissionGranted
}

// Show delivers n when permission is granted and at least one client is
// connected. A notification with the same tag as a visible one replaces it.
func (p *Push) Show(ctx context.Context, namespace string, n Notification) *Handle {
	if !p.Supported() {
		return nil
	}
	perm, err := p.perms.Permission(ctx, namespace)
	if err != nil || perm != model.PermissionGranted {
		return nil
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	timeout := n.Timeout
	if !n.RequireInteraction && timeout <= 0 {
		timeout = AutoDismiss
	}
	if n.RequireInteraction {
		timeout = 0
	}

	tagKey := ""
	if n.Tag != "" {
		tagKey = namespace + "\x00" + n.Tag
		p.tagged.Lock()
		defer p.tagged.Unlock()

		p.mu.Lock()
		prev := p.byTag[tagKey]
		p.mu.Unlock()
		prev.Close()
	}

	delivered := p.transport.Send(namespace, ShowMessage{
		Type:               TypeNotification,
		ID:                 n.ID,
		Title:              n.Title,
		Body:               n.Body,
		Tag:                n.Tag,
		RequireInteraction: n.RequireInteraction,
		TimeoutMs:          timeout.Milliseconds(),
	})
	if delivered == 0 {
		return nil
	}

	var timer *time.Timer
	var h *Handle
	h = newHandle(n.ID, func() {
		p.mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		if tagKey != "" && p.byTag[tagKey] == h {
			delete(p.byTag, tagKey)
		}
		p.mu.Unlock()
		p.transport.Send(namespace, DismissMessage{Type: TypeDismiss, ID: n.ID})
	})

	p.mu.Lock()
	if tagKey != "" {
		p.byTag[tagKey] = h
	}
	if timeout > 0 {
		timer = time.AfterFunc(timeout, h.Close)
	}
	p.mu.Unlock()
	return h
}
