package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/shramba/internal/expiry"
	"github.com/erazemk/shramba/internal/model"
)

// permissionWait bounds how long a reminder run waits for a tab to answer
// a permission prompt.
const permissionWait = 30 * time.Second

// AlertsHandler handles expiration alerts, the dashboard and notification
// permission.
type AlertsHandler struct {
	Svc *Services
}

type permissionRequestBody struct {
	Permission model.Permission `json:"permission" validate:"required,permission"`
}

type dashboardResponse struct {
	Counters
	Expiring   []expiry.Expiring `json:"expiring"`
	Permission model.Permission  `json:"permission"`
}

// Expiring handles GET /api/alerts/expiring.
func (h *AlertsHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	ns := GetClaims(r.Context()).Namespace()
	jsonResponse(w, http.StatusOK, h.Svc.Expiry.ExpiringItems(r.Context(), ns))
}

// Check handles POST /api/alerts/check.
func (h *AlertsHandler) Check(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), permissionWait)
	defer cancel()
	n := h.Svc.Expiry.CheckReminders(ctx, claims.Namespace())

	slog.Info("expiration reminders checked", "user", claims.Username, "reminders", n)
	jsonResponse(w, http.StatusOK, map[string]int{"reminders": n})
}

// Dashboard handles GET /api/dashboard.
func (h *AlertsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ns := GetClaims(r.Context()).Namespace()

	perm, err := h.Svc.Items.Permission(r.Context(), ns)
	if err != nil {
		slog.Warn("reading notification permission", "namespace", ns, "error", err)
	}
	jsonResponse(w, http.StatusOK, dashboardResponse{
		Counters:   h.Svc.Counters(r.Context(), ns),
		Expiring:   h.Svc.Expiry.ExpiringItems(r.Context(), ns),
		Permission: perm,
	})
}

// SetPermission handles PUT /api/notifications/permission.
func (h *AlertsHandler) SetPermission(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	ns := claims.Namespace()

	var req permissionRequestBody
	if !decodeAndValidate(w, r, &req, "permission is required") {
		return
	}

	if err := h.Svc.Items.SetPermission(r.Context(), ns, req.Permission); err != nil {
		slog.Error("storing notification permission", "namespace", ns, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to store permission")
		return
	}
	h.Svc.Hub.answerPermission(ns, req.Permission)

	slog.Info("notification permission set", "user", claims.Username, "permission", req.Permission)
	jsonResponse(w, http.StatusOK, map[string]model.Permission{"permission": req.Permission})
}
