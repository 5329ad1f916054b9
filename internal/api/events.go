package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erazemk/shramba/internal/bus"
	"github.com/erazemk/shramba/internal/schedule"
)

// TypeHello tells a new stream its client id.
const TypeHello = "hello"

// ClientIDHeader carries the event stream id of the tab making a request.
// Changes made by that request are not echoed back to the same tab.
const ClientIDHeader = "X-Client-ID"

type helloMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// EventsHandler serves the per-tab event stream.
type EventsHandler struct {
	Svc *Services
}

// Serve handles GET /api/events. Browsers cannot set headers on WebSocket
// requests, so the token may also come from the token query parameter.
func (h *EventsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		jsonError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := authenticate(r.Context(), h.Svc.DB, h.Svc.JWTSecret, token)
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	ns := claims.Namespace()

	c, err := h.Svc.Hub.upgrade(w, r, ns)
	if err != nil {
		slog.Warn("upgrading event stream", "user", claims.Username, "error", err)
		return
	}
	defer h.Svc.Hub.unregister(c)

	go c.writeLoop()

	hello, _ := json.Marshal(helloMessage{Type: TypeHello, ClientID: c.id})
	c.enqueue(hello)

	// The stream outlives the request context once hijacked.
	session := schedule.New(context.Background())
	defer session.Stop()

	session.Every("counters", h.Svc.CountersInterval, true, func(ctx context.Context) {
		data, err := json.Marshal(countersMessage{Type: TypeCounters, Counters: h.Svc.Counters(ctx, ns)})
		if err == nil {
			c.enqueue(data)
		}
	})
	session.Every("reminders", h.Svc.ReminderInterval, true, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, permissionWait)
		defer cancel()
		h.Svc.Expiry.CheckReminders(ctx, ns)
	})

	h.readLoop(c)
}

func (h *EventsHandler) readLoop(c *client) {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("reading event stream", "namespace", c.namespace, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == TypePermission && msg.State.Valid() {
			h.recordPermission(c, msg)
		}
	}
}

func (h *EventsHandler) recordPermission(c *client, msg clientMessage) {
	ctx := bus.WithOrigin(context.Background(), c.id)
	if err := h.Svc.Items.SetPermission(ctx, c.namespace, msg.State); err != nil {
		slog.Warn("storing notification permission", "namespace", c.namespace, "error", err)
	}
	h.Svc.Hub.answerPermission(c.namespace, msg.State)
}

// originMiddleware tags the request context with the calling tab's stream
// id so bucket changes are not relayed back to it.
func originMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(ClientIDHeader); id != "" {
			r = r.WithContext(bus.WithOrigin(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
