package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/shramba/internal/lowstock"
	"github.com/erazemk/shramba/internal/model"
)

// ShoppingHandler handles shopping list endpoints.
type ShoppingHandler struct {
	Svc *Services
}

type addShoppingRequest struct {
	Name     string          `json:"name" validate:"required"`
	Quantity *model.Quantity `json:"quantity" validate:"omitempty,gt=0"`
	Unit     string          `json:"unit" validate:"omitempty,unit"`
	Category string          `json:"category"`
}

type shoppingListResponse struct {
	Items            []model.ShoppingItem `json:"items"`
	Pending          int                  `json:"pending"`
	AutoAddedPending int                  `json:"autoAddedPending"`
}

func findShoppingItem(items []model.ShoppingItem, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// List handles GET /api/shopping.
func (h *ShoppingHandler) List(w http.ResponseWriter, r *http.Request) {
	ns := GetClaims(r.Context()).Namespace()

	items, err := h.Svc.Items.Shopping(r.Context(), ns)
	items, ok := collection(w, ns, "shopping list", items, err)
	if !ok {
		return
	}
	resp := shoppingListResponse{Items: items, AutoAddedPending: lowstock.AutoAddedPending(items)}
	for _, item := range items {
		if !item.Completed {
			resp.Pending++
		}
	}
	jsonResponse(w, http.StatusOK, resp)
}

// Add handles POST /api/shopping.
func (h *ShoppingHandler) Add(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	ns := claims.Namespace()

	var req addShoppingRequest
	if !decodeAndValidate(w, r, &req, "Item name is required") {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		jsonError(w, http.StatusBadRequest, "Item name is required")
		return
	}

	now := h.Svc.Now()
	item := model.ShoppingItem{
		ID:       uuid.NewString(),
		Name:     name,
		Quantity: lowstock.RestockQuantity,
		Unit:     req.Unit,
		Category: strings.TrimSpace(req.Category),
		AddedAt:  &now,
	}
	if req.Quantity != nil {
		item.Quantity = *req.Quantity
	}
	if item.Unit == "" {
		item.Unit = model.DefaultUnit
	}
	if item.Category == "" {
		item.Category = model.DefaultShoppingCategory
	}

	h.Svc.mu.Lock()
	defer h.Svc.mu.Unlock()

	items, err := h.Svc.Items.Shopping(r.Context(), ns)
	items, ok := collection(w, ns, "shopping list", items, err)
	if !ok {
		return
	}
	items = append(items, item)
	if err := h.Svc.Items.SetShopping(r.Context(), ns, items); err != nil {
		slog.Error("saving shopping list", "namespace", ns, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save item")
		return
	}

	slog.Info("shopping item added", "user", claims.Username, "item", item.Name)
	jsonResponse(w, http.StatusCreated, item)
}

// Toggle handles PUT /api/shopping/{id}/toggle.
func (h *ShoppingHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	ns := GetClaims(r.Context()).Namespace()

	h.Svc.mu.Lock()
	defer h.Svc.mu.Unlock()

	items, err := h.Svc.Items.Shopping(r.Context(), ns)
	items, ok := collection(w, ns, "shopping list", items, err)
	if !ok {
		return
	}
	i := findShoppingItem(items, r.PathValue("id"))
	if i < 0 {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	items[i].Completed = !items[i].Completed

	if err := h.Svc.Items.SetShopping(r.Context(), ns, items); err != nil {
		slog.Error("saving shopping list", "namespace", ns, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update item")
		return
	}
	jsonResponse(w, http.StatusOK, items[i])
}

// Delete handles DELETE /api/shopping/{id}.
func (h *ShoppingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ns := GetClaims(r.Context()).Namespace()

	h.Svc.mu.Lock()
	defer h.Svc.mu.Unlock()

	items, err := h.Svc.Items.Shopping(r.Context(), ns)
	items, ok := collection(w, ns, "shopping list", items, err)
	if !ok {
		return
	}
	i := findShoppingItem(items, r.PathValue("id"))
	if i < 0 {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	items = append(items[:i], items[i+1:]...)

	if err := h.Svc.Items.SetShopping(r.Context(), ns, items); err != nil {
		slog.Error("saving shopping list", "namespace", ns, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// ClearCompleted handles DELETE /api/shopping/completed.
func (h *ShoppingHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	ns := claims.Namespace()

	h.Svc.mu.Lock()
	defer h.Svc.mu.Unlock()

	items, err := h.Svc.Items.Shopping(r.Context(), ns)
	items, ok := collection(w, ns, "shopping list", items, err)
	if !ok {
		return
	}
	kept := make([]model.ShoppingItem, 0, len(items))
	for _, item := range items {
		if !item.Completed {
			kept = append(kept, item)
		}
	}
	removed := len(items) - len(kept)
	if removed > 0 {
		if err := h.Svc.Items.SetShopping(r.Context(), ns, kept); err != nil {
			slog.Error("saving shopping list", "namespace", ns, "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to clear completed items")
			return
		}
	}

	slog.Info("completed shopping items cleared", "user", claims.Username, "removed", removed)
	jsonResponse(w, http.StatusOK, map[string]int{"removed": removed})
}
