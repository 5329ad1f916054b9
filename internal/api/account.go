package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/erazemk/shramba/internal/store"
)

// AccountHandler handles per-user data maintenance.
type AccountHandler struct {
	Svc *Services
}

type emailRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

// Reset handles POST /api/account/reset. It removes every bucket and photo
// of the user except the notification permission.
func (h *AccountHandler) Reset(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	ns := claims.Namespace()

	h.Svc.mu.Lock()
	defer h.Svc.mu.Unlock()

	if err := h.Svc.Items.ClearAll(r.Context(), ns); err != nil {
		slog.Error("clearing user data", "user", claims.Username, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to reset data")
		return
	}
	if err := store.DeleteNamespacePhotos(r.Context(), h.Svc.DB, ns); err != nil {
		slog.Warn("deleting photos", "user", claims.Username, "error", err)
	}
	if err := h.Svc.Items.Initialize(r.Context(), ns); err != nil {
		slog.Warn("initializing buckets", "user", claims.Username, "error", err)
	}

	slog.Info("user data reset", "user", claims.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "data reset"})
}

// Stats handles GET /api/account/stats.
func (h *AccountHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Items.Stats(r.Context(), GetClaims(r.Context()).Namespace())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}

// SetEmail handles PUT /api/account/email. An empty address turns email
// reminders off.
func (h *AccountHandler) SetEmail(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req emailRequest
	if !decodeAndValidate(w, r, &req, "") {
		return
	}
	email := strings.TrimSpace(req.Email)
	if err := store.SetUserEmail(r.Context(), h.Svc.DB, claims.UserID, email); err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to update email")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"email": email})
}
