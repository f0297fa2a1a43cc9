// Package websocket keeps a live feed open to signed-in customers and
// couriers and pushes order notifications to the ones connected.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/food-delivery/internal/auth"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

type Client struct {
	userID int64
	conn   *websocket.Conn
	send   chan Message
	hub    *Hub
	logger *logrus.Logger
}

// Hub tracks connected clients by user. A user may hold several sessions.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[int64]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

// NewHub accepts upgrades from allowedOrigins; an empty list accepts any origin.
func NewHub(allowedOrigins []string, logger *logrus.Logger) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		clients:    make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations until ctx ends, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			sessions, ok := h.clients[client.userID]
			if !ok {
				sessions = make(map[*Client]bool)
				h.clients[client.userID] = sessions
			}
			sessions[client] = true
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{
				"user_id":      client.userID,
				"client_count": h.GetClientCount(),
			}).Info("Client connected")

		case client := <-h.unregister:
			h.remove(client)
			h.logger.WithFields(logrus.Fields{
				"user_id":      client.userID,
				"client_count": h.GetClientCount(),
			}).Info("Client disconnected")

		case <-ctx.Done():
			h.mutex.Lock()
			for _, sessions := range h.clients {
				for client := range sessions {
					close(client.send)
				}
			}
			h.clients = make(map[int64]map[*Client]bool)
			h.mutex.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	sessions, ok := h.clients[client.userID]
	if !ok || !sessions[client] {
		return
	}
	delete(sessions, client)
	close(client.send)
	if len(sessions) == 0 {
		delete(h.clients, client.userID)
	}
}

// SendTo queues a message for every session of userIDs and returns how many
// users had at least one session take it. Sessions with a full buffer are
// dropped.
func (h *Hub) SendTo(userIDs []int64, messageType string, data interface{}) int {
	message := Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var reached int
	var slow []*Client

	h.mutex.RLock()
	for _, userID := range userIDs {
		delivered := false
		for client := range h.clients[userID] {
			select {
			case client.send <- message:
				delivered = true
			default:
				slow = append(slow, client)
			}
		}
		if delivered {
			reached++
		}
	}
	h.mutex.RUnlock()

	for _, client := range slow {
		h.logger.WithField("user_id", client.userID).Warn("Client send buffer full, dropping connection")
		h.remove(client)
	}
	return reached
}

// HandleWebSocket upgrades an authenticated request into a live feed session.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{
		userID: id.UserID,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		hub:    h,
		logger: h.logger,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.logger.WithError(err).Error("Failed to marshal WebSocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var n int
	for _, sessions := range h.clients {
		n += len(sessions)
	}
	return n
}
