package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/erazemk/shramba/internal/bus"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/notify"
)

// Event stream message types.
const (
	TypeBucket     = "bucket"
	TypeCounters   = "counters"
	TypePermission = "permission"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// ErrNoClients is returned when a namespace has no connected client.
var ErrNoClients = errors.New("no connected clients")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type bucketMessage struct {
	Type  string          `json:"type"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type countersMessage struct {
	Type     string   `json:"type"`
	Counters Counters `json:"counters"`
}

type permissionRequest struct {
	Type string `json:"type"`
}

// clientMessage is anything a client sends.
type clientMessage struct {
	Type  string           `json:"type"`
	State model.Permission `json:"state"`
}

// client is one connected browser tab.
type client struct {
	id        string
	namespace string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue queues a message without blocking. A full queue drops it.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		slog.Warn("event queue full, dropping message", "namespace", c.namespace, "client", c.id)
		return false
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Hub keeps the open event streams of every namespace. It relays bucket
// changes from the bus to the other tabs of the same user and carries
// notifications.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	waiters map[string][]chan model.Permission

	unsubscribe func()
}

// NewHub creates a hub relaying changes published on b.
func NewHub(b *bus.Bus) *Hub {
	h := &Hub{
		clients: make(map[string]map[*client]struct{}),
		waiters: make(map[string][]chan model.Permission),
	}
	if b != nil {
		h.unsubscribe = b.Subscribe(h.relay)
	}
	return h
}

// relay forwards a bucket change to every tab of the namespace except the
// one that made it.
func (h *Hub) relay(e bus.Event) {
	value := json.RawMessage("null")
	if !e.Removed() && json.Valid(e.Value) {
		value = e.Value
	}
	data, err := json.Marshal(bucketMessage{Type: TypeBucket, Key: e.Key, Value: value})
	if err != nil {
		return
	}
	for _, c := range h.snapshot(e.Namespace) {
		if c.id != e.Origin {
			c.enqueue(data)
		}
	}
}

func (h *Hub) snapshot(namespace string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients[namespace]))
	for c := range h.clients[namespace] {
		out = append(out, c)
	}
	return out
}

// Connected returns the number of open streams of a namespace.
func (h *Hub) Connected(namespace string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[namespace])
}

// Send delivers msg to every stream of namespace and returns how many
// streams accepted it.
func (h *Hub) Send(namespace string, msg any) int {
	clients := h.snapshot(namespace)
	if len(clients) == 0 {
		return 0
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("encoding event", "error", err)
		return 0
	}
	n := 0
	for _, c := range clients {
		if c.enqueue(data) {
			n++
		}
	}
	return n
}

// AskPermission prompts the tabs of a namespace for notification
// permission and waits for the first answer.
func (h *Hub) AskPermission(ctx context.Context, namespace string) (model.Permission, error) {
	answer := make(chan model.Permission, 1)
	h.mu.Lock()
	h.waiters[namespace] = append(h.waiters[namespace], answer)
	h.mu.Unlock()
	defer h.dropWaiter(namespace, answer)

	if h.Send(namespace, permissionRequest{Type: notify.TypePermissionRequest}) == 0 {
		return model.PermissionDefault, ErrNoClients
	}

	select {
	case p := <-answer:
		return p, nil
	case <-ctx.Done():
		return model.PermissionDefault, ctx.Err()
	}
}

func (h *Hub) dropWaiter(namespace string, ch chan model.Permission) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws := h.waiters[namespace]
	for i, w := range ws {
		if w == ch {
			h.waiters[namespace] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(h.waiters[namespace]) == 0 {
		delete(h.waiters, namespace)
	}
}

// answerPermission hands a client's answer to every pending prompt.
func (h *Hub) answerPermission(namespace string, p model.Permission) {
	h.mu.Lock()
	ws := h.waiters[namespace]
	delete(h.waiters, namespace)
	h.mu.Unlock()
	for _, w := range ws {
		select {
		case w <- p:
		default:
		}
	}
}

func (h *Hub) register(namespace string, conn *websocket.Conn) *client {
	c := &client{
		id:        uuid.NewString(),
		namespace: namespace,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	if h.clients[namespace] == nil {
		h.clients[namespace] = make(map[*client]struct{})
	}
	h.clients[namespace][c] = struct{}{}
	h.mu.Unlock()
	slog.Info("event stream opened", "namespace", namespace, "client", c.id)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients[c.namespace], c)
	if len(h.clients[c.namespace]) == 0 {
		delete(h.clients, c.namespace)
	}
	h.mu.Unlock()
	c.close()
	slog.Info("event stream closed", "namespace", c.namespace, "client", c.id)
}

// Close disconnects every stream.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	var all []*client
	for _, cs := range h.clients {
		for c := range cs {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*client]struct{})
	h.mu.Unlock()
	for _, c := range all {
		c.close()
	}
}

// upgrade switches the request to a WebSocket and registers the stream.
func (h *Hub) upgrade(w http.ResponseWriter, r *http.Request, namespace string) (*client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return h.register(namespace, conn), nil
}
