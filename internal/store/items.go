package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erazemk/shramba/internal/bus"
	"github.com/erazemk/shramba/internal/model"
)

// Bucket keys. These names are shared with data exported from the browser
// client and must not change.
const (
	KeyPantry         = "inventory-items"
	KeyShopping       = "shopping-list-items"
	LegacyKeyPantry   = "annapurna_inventory"
	LegacyKeyShopping = "annapurna_shopping_list"
	KeyReminderLog    = "annapurna_reminder_log"
	KeyPermission     = "notification-permission"
	ChatKeyPrefix     = "chatbot-messages-"
)

// ErrMalformed wraps decode failures of a bucket. Readers get an empty
// collection alongside it and should carry on with that.
var ErrMalformed = errors.New("malformed bucket")

// ItemStore reads and writes whole item collections. Writes of
// user-visible collections go through the change bus.
type ItemStore struct {
	backend Backend
	bus     *bus.Bus
}

// NewItemStore creates a store on top of backend. Writes are published
// on b, which must write through the same backend.
func NewItemStore(backend Backend, b *bus.Bus) *ItemStore {
	return &ItemStore{backend: backend, bus: b}
}

// Backend returns the underlying bucket backend.
func (s *ItemStore) Backend() Backend { return s.backend }

// Bus returns the change bus writes are published on.
func (s *ItemStore) Bus() *bus.Bus { return s.bus }

// ReadBucket decodes a whole bucket. A missing or empty bucket is an empty
// collection. Malformed content also yields an empty collection, with an
// error wrapping ErrMalformed.
func ReadBucket[T any](ctx context.Context, s *ItemStore, namespace, key string) ([]T, error) {
	items, _, err := readBucket[T](ctx, s.backend, namespace, key)
	return items, err
}

// WriteBucket replaces a whole bucket and announces the change.
func WriteBucket[T any](ctx context.Context, s *ItemStore, namespace, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.bus.Publish(ctx, namespace, key, data)
}

func readBucket[T any](ctx context.Context, backend Backend, namespace, key string) ([]T, bool, error) {
	data, ok, err := backend.Get(ctx, namespace, key)
	if err != nil {
		return []T{}, false, err
	}
	if !ok {
		return []T{}, false, nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []T{}, true, nil
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return []T{}, true, fmt.Errorf("decoding %s: %w: %w", key, ErrMalformed, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, true, nil
}

// Pantry returns the pantry collection, falling back to the legacy bucket
// when the current one has never been written.
func (s *ItemStore) Pantry(ctx context.Context, namespace string) ([]model.PantryItem, error) {
	items, ok, err := readBucket[model.PantryItem](ctx, s.backend, namespace, KeyPantry)
	if ok || err != nil {
		return items, err
	}
	items, _, err = readBucket[model.PantryItem](ctx, s.backend, namespace, LegacyKeyPantry)
	return items, err
}

// SetPantry replaces the pantry collection.
func (s *ItemStore) SetPantry(ctx context.Context, namespace string, items []model.PantryItem) error {
	return WriteBucket(ctx, s, namespace, KeyPantry, items)
}

// Shopping returns the shopping list.
func (s *ItemStore) Shopping(ctx context.Context, namespace string) ([]model.ShoppingItem, error) {
	return ReadBucket[model.ShoppingItem](ctx, s, namespace, KeyShopping)
}

// SetShopping replaces the shopping list.
func (s *ItemStore) SetShopping(ctx context.Context, namespace string, items []model.ShoppingItem) error {
	return WriteBucket(ctx, s, namespace, KeyShopping, items)
}

// ReminderLog returns the expiration reminder log. The log is private to
// the expiration engine and never published.
func (s *ItemStore) ReminderLog(ctx context.Context, namespace string) ([]model.ReminderEntry, error) {
	log, _, err := readBucket[model.ReminderEntry](ctx, s.backend, namespace, KeyReminderLog)
	return log, err
}

// SetReminderLog replaces the reminder log.
func (s *ItemStore) SetReminderLog(ctx context.Context, namespace string, log []model.ReminderEntry) error {
	if log == nil {
		log = []model.ReminderEntry{}
	}
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encoding reminder log: %w", err)
	}
	return s.backend.Put(ctx, namespace, KeyReminderLog, data)
}

// ChatHistory returns the stored conversation of a user.
func (s *ItemStore) ChatHistory(ctx context.Context, namespace, userKey string) ([]model.ChatMessage, error) {
	return ReadBucket[model.ChatMessage](ctx, s, namespace, ChatKeyPrefix+userKey)
}

// SetChatHistory replaces the stored conversation of a user.
func (s *ItemStore) SetChatHistory(ctx context.Context, namespace, userKey string, msgs []model.ChatMessage) error {
	return WriteBucket(ctx, s, namespace, ChatKeyPrefix+userKey, msgs)
}

// ClearChatHistory removes the stored conversation of a user.
func (s *ItemStore) ClearChatHistory(ctx context.Context, namespace, userKey string) error {
	return s.bus.Remove(ctx, namespace, ChatKeyPrefix+userKey)
}

// Permission returns the stored notification permission of a namespace.
// A namespace that never answered is in the default state.
func (s *ItemStore) Permission(ctx context.Context, namespace string) (model.Permission, error) {
	data, ok, err := s.backend.Get(ctx, namespace, KeyPermission)
	if err != nil {
		return model.PermissionDefault, err
	}
	if !ok {
		return model.PermissionDefault, nil
	}
	var p model.Permission
	if err := json.Unmarshal(data, &p); err != nil || !p.Valid() {
		return model.PermissionDefault, nil
	}
	return p, nil
}

// SetPermission stores the notification permission of a namespace.
func (s *ItemStore) SetPermission(ctx context.Context, namespace string, p model.Permission) error {
	if !p.Valid() {
		return fmt.Errorf("invalid permission %q", p)
	}
	data, _ := json.Marshal(p)
	return s.backend.Put(ctx, namespace, KeyPermission, data)
}
