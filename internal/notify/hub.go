package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

// Event is the JSON frame written to live dashboard clients.
type Event struct {
	Kind    string         `json:"kind"`
	Subject string         `json:"subject,omitempty"`
	Text    string         `json:"text,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

type client struct {
	events chan Event
}

// Hub pushes notifications to connected websocket clients of each user.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

// Send queues msg for every connection of msg.UserID. Slow clients drop events
// instead of blocking the sender.
func (h *Hub) Send(_ context.Context, msg Message) error {
	ev := Event{Kind: msg.Kind, Subject: msg.Subject, Text: msg.Text, Data: msg.Data, At: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[msg.UserID] {
		select {
		case c.events <- ev:
		default:
			slog.Warn("websocket client buffer full, dropping event", "user_id", msg.UserID, "kind", msg.Kind)
		}
	}
	return nil
}

// Connections reports how many live connections userID has.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Serve upgrades the request and streams events for userID until the client
// disconnects or ctx is done.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return fmt.Errorf("accepting websocket: %w", err)
	}
	defer conn.CloseNow()

	c := &client{events: make(chan Event, clientBuffer)}
	h.add(userID, c)
	defer h.remove(userID, c)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return fmt.Errorf("writing event: %w", err)
			}
		}
	}
}

func (h *Hub) add(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	slog.Debug("websocket client connected", "user_id", userID)
}

func (h *Hub) remove(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[userID], c)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
	slog.Debug("websocket client disconnected", "user_id", userID)
}
