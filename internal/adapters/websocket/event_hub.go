// Package websocket streams relay domain events to connected operators
package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"evolution-relay/internal/adapters/messaging"
	"evolution-relay/internal/core/ports"
)

var _ ports.EventPublisher = (*EventHub)(nil)

// EventHub manages WebSocket connections and broadcasts every published
// domain event to all of them. Slow clients lose events, the relay never waits.
type EventHub struct {
	clients map[*Client]struct{}

	// Buffered channel for encoded events (drop-if-full)
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	// closed when Run returns
	done     chan struct{}
	stopOnce sync.Once

	mu    sync.RWMutex
	token string

	upgrader websocket.Upgrader
	now      func() time.Time
}

// Client represents a connected WebSocket client
type Client struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
}

const (
	broadcastBufferSize = 256
	clientBufferSize    = 64

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// NewEventHub creates a new hub. token authenticates subscribers; empty rejects all.
func NewEventHub(token string) *EventHub {
	return &EventHub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		token:      token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Operator consoles are served from other origins; the token guards access
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Run is the hub event loop. It closes every client when ctx is done.
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Event feed client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Event feed client disconnected", "total", total)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// client buffer full, skip it for this event
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues the event for every connected client. It never blocks.
func (h *EventHub) Publish(_ context.Context, eventType string, data any) error {
	body, err := json.Marshal(messaging.Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: h.now().UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	select {
	case h.broadcast <- body:
	default:
		slog.Debug("Event feed buffer full, dropping event", "event_type", eventType)
	}
	return nil
}

// ServeWS upgrades an authenticated request to an event subscription
// GET /api/system/events?token=...
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	got := r.URL.Query().Get("token")
	if got == "" {
		got = r.Header.Get("X-Outbox-Token")
	}
	if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		slog.Warn("Unauthorized event feed attempt", "remote_addr", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBufferSize),
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "event feed stopped"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the current number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump drains the connection so pongs and closes are processed
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("Event feed read error", "error", err)
			}
			return
		}
	}
}

// writePump sends one text frame per event and keeps the connection alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
