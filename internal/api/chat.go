package api

import (
	"errors"
	"net/http"

	"github.com/erazemk/shramba/internal/chat"
	"github.com/erazemk/shramba/internal/model"
)

// ChatHandler handles the recipe assistant endpoints.
type ChatHandler struct {
	Svc *Services
}

type chatRequest struct {
	Message string `json:"message" validate:"required"`
}

type chatResponse struct {
	Reply model.ChatMessage `json:"reply"`
}

// History handles GET /api/chat.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	history := h.Svc.Chat.History(r.Context(), claims.Namespace(), claims.Username, claims.Username)
	jsonResponse(w, http.StatusOK, history)
}

// Send handles POST /api/chat.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req chatRequest
	if !decodeAndValidate(w, r, &req, "message is required") {
		return
	}

	reply, err := h.Svc.Chat.Send(r.Context(), claims.Namespace(), claims.Username, claims.Username, req.Message)
	if errors.Is(err, chat.ErrEmptyMessage) {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	jsonResponse(w, http.StatusOK, chatResponse{Reply: reply})
}

// Clear handles DELETE /api/chat.
func (h *ChatHandler) Clear(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	history := h.Svc.Chat.Clear(r.Context(), claims.Namespace(), claims.Username, claims.Username)
	jsonResponse(w, http.StatusOK, history)
}
