// Package lowstock keeps the shopping list stocked with pantry items that
// are running low.
package lowstock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/notify"
	"github.com/erazemk/shramba/internal/store"
)

// DefaultThreshold is the highest quantity still considered low.
const DefaultThreshold = 5

// RestockQuantity is the quantity of every auto-added shopping entry.
const RestockQuantity model.Quantity = 1

// Store is the part of the item store the engine needs.
type Store interface {
	Shopping(ctx context.Context, namespace string) ([]model.ShoppingItem, error)
	SetShopping(ctx context.Context, namespace string, items []model.ShoppingItem) error
}

// Engine adds low pantry items to the shopping list exactly once.
type Engine struct {
	Store     Store
	Gateway   notify.Gateway
	Threshold model.Quantity
	Now       func() time.Time
	NewID     func() string

	mu sync.Mutex
}

// New creates an engine with the default threshold.
func New(st Store, gateway notify.Gateway) *Engine {
	return &Engine{
		Store:     st,
		Gateway:   gateway,
		Threshold: DefaultThreshold,
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

// IsLow reports whether q is low but not out of stock.
func (e *Engine) IsLow(q model.Quantity) bool {
	threshold := e.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return q > 0 && q <= threshold
}

// Check adds every low item of pantry that is not yet on the shopping list
// and returns the names of the added items. Calling it again with the same
// pantry adds nothing.
func (e *Engine) Check(ctx context.Context, namespace string, pantry []model.PantryItem) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	added := []string{}

	var low []model.PantryItem
	for _, item := range pantry {
		if e.IsLow(item.Quantity) {
			low = append(low, item)
		}
	}
	if len(low) == 0 {
		return added
	}

	shopping, err := e.Store.Shopping(ctx, namespace)
	switch {
	case errors.Is(err, store.ErrMalformed):
		slog.Warn("malformed shopping list, starting over", "namespace", namespace, "error", err)
		shopping = []model.ShoppingItem{}
	case err != nil:
		slog.Error("reading shopping list for low stock check", "namespace", namespace, "error", err)
		return added
	}

	now := e.Now()
	var fresh []model.PantryItem
	for _, item := range low {
		if onList(shopping, item.Name) {
			continue
		}
		category := item.Category
		if category == "" {
			category = model.DefaultShoppingCategory
		}
		addedAt := now
		shopping = append(shopping, model.ShoppingItem{
			ID:        e.NewID(),
			Name:      item.Name,
			Quantity:  RestockQuantity,
			Unit:      item.Unit,
			Category:  category,
			AutoAdded: true,
			AddedAt:   &addedAt,
		})
		added = append(added, item.Name)
		fresh = append(fresh, item)
	}
	if len(fresh) == 0 {
		return added
	}

	if err := e.Store.SetShopping(ctx, namespace, shopping); err != nil {
		slog.Error("saving shopping list", "namespace", namespace, "error", err)
		return []string{}
	}
	slog.Info("low stock items added to shopping list", "namespace", namespace, "items", added)

	if e.Gateway != nil {
		for _, item := range fresh {
			e.Gateway.Show(ctx, namespace, notify.LowStock(item.Name, item.Quantity, item.Unit))
		}
	}
	return added
}

func onList(shopping []model.ShoppingItem, name string) bool {
	for _, s := range shopping {
		if model.SameName(s.Name, name) {
			return true
		}
	}
	return false
}

// AutoAddedPending counts auto-added entries that are not yet bought.
func AutoAddedPending(shopping []model.ShoppingItem) int {
	n := 0
	for _, s := range shopping {
		if s.AutoAdded && !s.Completed {
			n++
		}
	}
	return n
}
