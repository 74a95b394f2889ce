// Package broadcast fans state-change events out to connected dashboard
// clients over websockets. Publishing never blocks: clients that cannot
// keep up are dropped.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vendor-onboarding/internal/common/logger"
)

// Event names pushed to dashboard clients.
const (
	EventCompanyUpdated      = "companyUpdated"
	EventCompanyAdded        = "companyAdded"
	EventCompanyDeleted      = "companyDeleted"
	EventCompaniesUploaded   = "companiesUploaded"
	EventNewNotification     = "newNotification"
	EventNotificationUpdated = "notificationUpdated"
	EventEmailJobCompleted   = "emailJobCompleted"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	clientBuffer   = 32
	maxMessageSize = 512
)

type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is the process-wide broadcaster. One instance is constructed at boot
// and injected into every component that publishes.
type Hub struct {
	logger   logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		logger: log.WithFields(map[string]interface{}{"component": "broadcast"}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// dashboard origin enforcement is handled upstream
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish sends one event to every connected client. Marshal failures and
// slow clients are logged, never propagated to the caller.
func (h *Hub) Publish(event string, payload interface{}) {
	msg, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal broadcast payload", map[string]interface{}{
			"event": event,
		})
		return
	}

	h.mu.RLock()
	stale := []*client{}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.logger.Warn("dropping slow websocket client", map[string]interface{}{"event": event})
		h.remove(c)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and attaches the client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed", nil)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop drains client frames so pings and close handshakes work. The
// dashboard never sends application messages.
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}
