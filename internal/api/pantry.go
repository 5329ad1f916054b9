package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/shramba/internal/expiry"
	"github.com/erazemk/shramba/internal/imaging"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// PantryHandler handles pantry item endpoints.
type PantryHandler struct {
	Svc *Services
}

type createPantryRequest struct {
	Name           string          `json:"name" validate:"required"`
	Category       string          `json:"category"`
	Quantity       *model.Quantity `json:"quantity" validate:"required,gte=0"`
	Unit           string          `json:"unit" validate:"required,unit"`
	ExpirationDate string          `json:"expirationDate" validate:"required,datetime=2006-01-02"`
	Notes          string          `json:"notes"`
}

type updatePantryRequest struct {
	Name           *string         `json:"name" validate:"omitempty,min=1"`
	Category       *string         `json:"category"`
	Quantity       *model.Quantity `json:"quantity" validate:"omitempty,gte=0"`
	Unit           *string         `json:"unit" validate:"omitempty,unit"`
	ExpirationDate *string         `json:"expirationDate" validate:"omitempty,datetime=2006-01-02"`
	Notes          *string         `json:"notes"`
}

// pantryEntry is a pantry item with its freshness.
type pantryEntry struct {
	model.PantryItem
	Status   expiry.Status `json:"status"`
	DaysLeft *int          `json:"daysLeft,omitempty"`
}

type pantryListResponse struct {
	Items []pantryEntry `json:"items"`
	Added []string      `json:"added"`
}

type pantryItemResponse struct {
	Item  pantryEntry `json:"item"`
	Added []string    `json:"added"`
}

func (h *PantryHandler) entry(item model.PantryItem) pantryEntry {
	status, days := expiry.StatusOf(item, h.Svc.Now())
	e := pantryEntry{PantryItem: item, Status: status}
	if status != expiry.StatusUnknown {
		e.DaysLeft = &days
	}
	return e
}

func findPantryItem(items []model.PantryItem, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// List handles GET /api/pantry. Listing also runs the low-stock check over
// the whole pantry.
func (h *PantryHandler) List(w http.ResponseWriter, r *http.Request) {
	ns := GetClaims(r.Context()).Namespace()

	h.Svc.mu.Lock()
	defer h.Svc.mu.Unlock()

	items, err := h.Svc.Items.Pantry(r.Context(), ns)
	items, ok := collection(w, ns, "pantry", items, err)
	if !ok {
		return
	}
	added := h.Svc.LowStock.Check(r.Context(), ns, items)

	entries := make([]pantryEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, h.entry(item))
	}
	jsonResponse(w, http.StatusOK, pantryListResponse{Items: entries, Added: added})
}

// Create handles POST /api/pantry.
func (h *PantryHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	ns := claims.Namespace()

	var req createPantryRequest
	if !decodeAndValidate(w, r, &req, "All fields are required except notes") {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		jsonError(w, http.StatusBadRequest, "All fields are required except notes")
		return
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = model.DefaultPantryCategory
	}

	item := model.PantryItem{
		ID:             uuid.NewString(),
		Name:           name,
		Category:       category,
		Quantity:       *req.Quantity,
		Unit:           req.Unit,
		ExpirationDate: req.ExpirationDate,
		Notes:          strings.TrimSpace(req.Notes),
		AddedAt:        h.Svc.Now(),
	}

	h.Svc.mu.Lock()
	defer h.Svc.mu.Unlock()

	items, err := h.Svc.Items.Pantry(r.Context(), ns)
	items, ok := collection(w, ns, "pantry", items, err)
	if !ok {
		return
	}
	items = append(items, item)
	if err := h.Svc.Items.SetPantry(r.Context(), ns, items); err != nil {
		slog.Error("saving pantry", "namespace", ns, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save item")
		return
	}
	added := h.Svc.LowStock.Check(r.Context(), ns, []model.PantryItem{item})

	slog.Info("pantry item created", "user", claims.Username, "item", item.Name)
	jsonResponse(w, http.StatusCreated, pantryItemResponse{Item: h.entry(item), Added: added})
}

// Get handles GET /api/pantry/{id}.
func (h *PantryHandler) Get(w http.ResponseWriter, r *http.Request) {
	ns := GetClaims(r.Context()).Namespace()

	items, err := h.Svc.Items.Pantry(r.Context(), ns)
	items, ok := collection(w, ns, "pantry", items, err)
	if !ok {
		return
	}
	i := findPantryItem(items, r.PathValue("id"))
	if i < 0 {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	jsonResponse(w, http.StatusOK, h.entry(items[i]))
}

// Update handles PUT /api/pantry/{id}. Only the edited item is checked for
// low stock.
func (h *PantryHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	ns := claims.Namespace()

	var req updatePantryRequest
	if !decodeAndValidate(w, r, &req, "") {
		return
	}

	h.Svc.mu.Lock()
	defer h.Svc.mu.Unlock()

	items, err := h.Svc.Items.Pantry(r.Context(), ns)
	items, ok := collection(w, ns, "pantry", items, err)
	if !ok {
		return
	}
	i := findPantryItem(items, r.PathValue("id"))
	if i < 0 {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	item := items[i]
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			jsonError(w, http.StatusBadRequest, "name is required")
			return
		}
		item.Name = name
	}
	if req.Category != nil {
		item.Category = strings.TrimSpace(*req.Category)
		if item.Category == "" {
			item.Category = model.DefaultPantryCategory
		}
	}
	if req.Quantity != nil {
		item.Quantity = *req.Quantity
	}
	if req.Unit != nil {
		item.Unit = *req.Unit
	}
	if req.ExpirationDate != nil {
		item.ExpirationDate = *req.ExpirationDate
	}
	if req.Notes != nil {
		item.Notes = strings.TrimSpace(*req.Notes)
	}
	items[i] = item

	if err := h.Svc.Items.SetPantry(r.Context(), ns, items); err != nil {
		slog.Error("saving pantry", "namespace", ns, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save item")
		return
	}
	added := h.Svc.LowStock.Check(r.Context(), ns, []model.PantryItem{item})

	slog.Info("pantry item updated", "user", claims.Username, "item", item.Name, "quantity", item.Quantity.String())
	jsonResponse(w, http.StatusOK, pantryItemResponse{Item: h.entry(item), Added: added})
}

// Delete handles DELETE /api/pantry/{id}.
func (h *PantryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	ns := claims.Namespace()
	id := r.PathValue("id")

	h.Svc.mu.Lock()
	defer h.Svc.mu.Unlock()

	items, err := h.Svc.Items.Pantry(r.Context(), ns)
	items, ok := collection(w, ns, "pantry", items, err)
	if !ok {
		return
	}
	i := findPantryItem(items, id)
	if i < 0 {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	name := items[i].Name
	items = append(items[:i], items[i+1:]...)

	if err := h.Svc.Items.SetPantry(r.Context(), ns, items); err != nil {
		slog.Error("saving pantry", "namespace", ns, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	if err := store.DeleteItemPhoto(r.Context(), h.Svc.DB, ns, id); err != nil {
		slog.Warn("deleting item photo", "namespace", ns, "item", id, "error", err)
	}

	slog.Info("pantry item deleted", "user", claims.Username, "item", name)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// UploadPhoto handles PUT /api/pantry/{id}/photo.
func (h *PantryHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	ns := GetClaims(r.Context()).Namespace()
	id := r.PathValue("id")

	items, err := h.Svc.Items.Pantry(r.Context(), ns)
	items, ok := collection(w, ns, "pantry", items, err)
	if !ok {
		return
	}
	if findPantryItem(items, id) < 0 {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(imaging.MaxUploadSize); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "photo file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file)
	switch {
	case errors.Is(err, imaging.ErrTooLarge), errors.Is(err, imaging.ErrUnsupported):
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		jsonError(w, http.StatusBadRequest, "photo could not be decoded")
		return
	}

	if err := store.SetItemPhoto(r.Context(), h.Svc.DB, ns, id, photo.Data, photo.MIME); err != nil {
		slog.Error("saving item photo", "namespace", ns, "item", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save photo")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"message": "photo uploaded",
		"width":   photo.Width,
		"height":  photo.Height,
	})
}

// GetPhoto handles GET /api/pantry/{id}/photo.
func (h *PantryHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	ns := GetClaims(r.Context()).Namespace()

	data, mime, err := store.GetItemPhoto(r.Context(), h.Svc.DB, ns, r.PathValue("id"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get photo")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no photo")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
