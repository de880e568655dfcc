package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage represents a WebSocket message.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// wsClient serializes writes to one connection; gorilla allows a single
// concurrent writer.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections.
type WSHub struct {
	clients map[*websocket.Conn]*wsClient
	mu      sync.RWMutex
	log     logrus.FieldLogger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(log logrus.FieldLogger) *WSHub {
	return &WSHub{
		clients: make(map[*websocket.Conn]*wsClient),
		log:     log.WithField("component", "ws"),
	}
}

// AddClient registers a new WebSocket connection.
func (h *WSHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = &wsClient{conn: conn}
	h.log.WithField("clients", len(h.clients)).Info("client connected")
}

// RemoveClient removes a WebSocket connection.
func (h *WSHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	conn.Close()
	h.log.WithField("clients", len(h.clients)).Info("client disconnected")
}

// Count returns the number of connected clients.
func (h *WSHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send writes a message to a single client.
func (h *WSHub) Send(conn *websocket.Conn, msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	c, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	return c.write(data)
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("marshal error")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, c := range h.clients {
		if err := c.write(data); err != nil {
			h.log.WithError(err).Warn("write error")
			go h.RemoveClient(conn)
		}
	}
}

// BroadcastStatus sends a status update to all clients.
func (h *WSHub) BroadcastStatus(status, message string) {
	h.Broadcast(WSMessage{
		Type: "status",
		Payload: map[string]string{
			"status":  status,
			"message": message,
		},
	})
}

// BroadcastLog sends a log message to all clients.
func (h *WSHub) BroadcastLog(level, message string) {
	h.Broadcast(WSMessage{
		Type: "log",
		Payload: map[string]string{
			"level":   level,
			"message": message,
		},
	})
}
