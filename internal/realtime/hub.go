// Package realtime pushes day-view snapshots and notify intents to
// websocket clients.
package realtime

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"medtrack/internal/adherence"
	"medtrack/internal/watch"
)

const (
	MessageTypeSnapshot     = "snapshot"
	MessageTypeNotification = "notification"
)

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	Time int64  `json:"time"`
}

// Hub tracks connected clients. It is also an adherence.Notifier: every
// intent is broadcast as a notification message.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

var _ adherence.Notifier = (*Hub)(nil)

// NewHub accepts upgrades from allowedOrigins; an empty list allows any
// origin.
func NewHub(log zerolog.Logger, allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients: make(map[*Client]bool),
		log:     log.With().Str("component", "realtime").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return h.upgrader.Upgrade(w, r, nil)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(conn *websocket.Conn) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("client", c.ID).Int("clients", n).Msg("client registered")
	return c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.log.Debug().Str("client", c.ID).Int("clients", n).Msg("client unregistered")
	}
}

// Broadcast queues m for every client. Clients whose buffer is full miss it.
func (h *Hub) Broadcast(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.push(m) {
			h.log.Warn().Str("client", c.ID).Str("type", m.Type).Msg("client too slow, message dropped")
		}
	}
}

func (h *Hub) Notify(_ context.Context, in adherence.Intent) error {
	h.Broadcast(Message{Type: MessageTypeNotification, Data: in})
	return nil
}

// Attach serves one connection until the peer goes away: every snapshot
// from sub is pushed to it. It cancels sub before returning.
func Attach[T any](h *Hub, conn *websocket.Conn, sub *watch.Subscription[T]) {
	c := h.register(conn)
	go c.writePump()
	go func() {
		for snap := range sub.C() {
			if !c.push(Message{Type: MessageTypeSnapshot, Data: snap}) && c.isClosed() {
				return
			}
		}
	}()
	c.readPump()
	sub.Cancel()
}
