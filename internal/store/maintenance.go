package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erazemk/shramba/internal/model"
)

// legacyKeys maps each legacy bucket to the bucket that replaced it.
var legacyKeys = []struct{ from, to string }{
	{LegacyKeyPantry, KeyPantry},
	{LegacyKeyShopping, KeyShopping},
}

// demoKeys are buckets left behind by demo builds of the client.
var demoKeys = []string{
	"demo-inventory", "sample-inventory", "test-inventory",
	"demo-shopping", "sample-shopping", "test-shopping",
	"demo-items", "sample-items", "test-items",
}

// demoNames are substrings that mark an item as demo data.
var demoNames = []string{
	"sample", "demo", "test", "example", "placeholder",
}

// Stats summarises stored data of one namespace.
type Stats struct {
	PantryCount       int `json:"pantry_count"`
	ShoppingCount     int `json:"shopping_count"`
	LegacyPantryCount int `json:"legacy_pantry_count"`
	Total             int `json:"total"`
}

// Migrate copies each legacy bucket into its current key when the current
// key is absent. It returns the keys that were written.
func (s *ItemStore) Migrate(ctx context.Context, namespace string) ([]string, error) {
	var migrated []string
	for _, lk := range legacyKeys {
		old, ok, err := s.backend.Get(ctx, namespace, lk.from)
		if err != nil {
			return migrated, fmt.Errorf("reading %s: %w", lk.from, err)
		}
		if !ok {
			continue
		}
		_, exists, err := s.backend.Get(ctx, namespace, lk.to)
		if err != nil {
			return migrated, fmt.Errorf("reading %s: %w", lk.to, err)
		}
		if exists {
			continue
		}
		if err := s.bus.Publish(ctx, namespace, lk.to, old); err != nil {
			return migrated, err
		}
		migrated = append(migrated, lk.to)
	}
	return migrated, nil
}

// Initialize makes sure the current buckets exist, writing empty
// collections where they are missing.
func (s *ItemStore) Initialize(ctx context.Context, namespace string) error {
	for _, key := range []string{KeyPantry, KeyShopping} {
		_, ok, err := s.backend.Get(ctx, namespace, key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}
		if ok {
			continue
		}
		if err := s.bus.Publish(ctx, namespace, key, []byte("[]")); err != nil {
			return err
		}
	}
	return nil
}

// Prepare runs the one-time migration and initialisation for a namespace.
func (s *ItemStore) Prepare(ctx context.Context, namespace string) error {
	if _, err := s.Migrate(ctx, namespace); err != nil {
		return err
	}
	return s.Initialize(ctx, namespace)
}

// ClearDemoData removes demo buckets and items whose names look like demo
// data. It returns the number of removed items.
func (s *ItemStore) ClearDemoData(ctx context.Context, namespace string) (int, error) {
	for _, key := range demoKeys {
		if err := s.backend.Delete(ctx, namespace, key); err != nil {
			return 0, err
		}
	}

	removed := 0

	pantry, err := s.Pantry(ctx, namespace)
	if err != nil && !errors.Is(err, ErrMalformed) {
		return 0, err
	}
	cleanPantry := pantry[:0:0]
	for _, item := range pantry {
		if !isDemoName(item.Name) {
			cleanPantry = append(cleanPantry, item)
		}
	}
	if n := len(pantry) - len(cleanPantry); n > 0 {
		if err := s.SetPantry(ctx, namespace, cleanPantry); err != nil {
			return 0, err
		}
		removed += n
	}

	shopping, err := s.Shopping(ctx, namespace)
	if err != nil && !errors.Is(err, ErrMalformed) {
		return removed, err
	}
	cleanShopping := shopping[:0:0]
	for _, item := range shopping {
		if !isDemoName(item.Name) {
			cleanShopping = append(cleanShopping, item)
		}
	}
	if n := len(shopping) - len(cleanShopping); n > 0 {
		if err := s.SetShopping(ctx, namespace, cleanShopping); err != nil {
			return removed, err
		}
		removed += n
	}

	return removed, nil
}

func isDemoName(name string) bool {
	lower := strings.ToLower(name)
	for _, d := range demoNames {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

// ClearAll removes every item collection and conversation of a namespace.
func (s *ItemStore) ClearAll(ctx context.Context, namespace string) error {
	for _, key := range []string{KeyPantry, KeyShopping, LegacyKeyPantry, LegacyKeyShopping} {
		if err := s.bus.Remove(ctx, namespace, key); err != nil {
			return err
		}
	}

	keys, err := s.backend.Keys(ctx, namespace)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if hasPrefix(key, ChatKeyPrefix) {
			if err := s.bus.Remove(ctx, namespace, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats counts stored items of a namespace.
func (s *ItemStore) Stats(ctx context.Context, namespace string) (Stats, error) {
	pantry, _, err := readBucket[model.PantryItem](ctx, s.backend, namespace, KeyPantry)
	if err != nil && !errors.Is(err, ErrMalformed) {
		return Stats{}, err
	}
	shopping, err := s.Shopping(ctx, namespace)
	if err != nil && !errors.Is(err, ErrMalformed) {
		return Stats{}, err
	}
	legacy, _, err := readBucket[model.PantryItem](ctx, s.backend, namespace, LegacyKeyPantry)
	if err != nil && !errors.Is(err, ErrMalformed) {
		return Stats{}, err
	}

	st := Stats{
		PantryCount:       len(pantry),
		ShoppingCount:     len(shopping),
		LegacyPantryCount: len(legacy),
	}
	st.Total = st.PantryCount + st.ShoppingCount + st.LegacyPantryCount
	return st, nil
}
