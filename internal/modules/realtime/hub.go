package realtime

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// Event is the envelope written to clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// client owns one socket. Only its write loop writes data frames, so a slow socket never
// holds up the caller of SendToUser.
type client struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan Event, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) stop() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (h *Hub) writeLoop(userID uuid.UUID, c *client) {
	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				h.Unregister(userID, c.conn)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Hub keeps the latest socket of every connected user.
type Hub struct {
	connections map[uuid.UUID]*client
	mutex       sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]*client),
	}
}

// Register replaces any previous connection of the user.
func (h *Hub) Register(userID uuid.UUID, conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if old, exists := h.connections[userID]; exists && old.conn != conn {
		old.stop()
	}
	c := newClient(conn)
	h.connections[userID] = c
	go h.writeLoop(userID, c)
}

// Unregister drops conn if it is still the user's current connection.
func (h *Hub) Unregister(userID uuid.UUID, conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if c, exists := h.connections[userID]; exists && c.conn == conn {
		c.stop()
		delete(h.connections, userID)
	}
}

// SendToUser queues an event and returns at once. An offline user, or one whose queue is
// full, misses the event.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload any) {
	h.mutex.RLock()
	c, exists := h.connections[userID]
	h.mutex.RUnlock()
	if !exists {
		return
	}

	select {
	case c.send <- Event{Type: event, Payload: payload}:
	default:
		log.Printf("level=warn msg=realtime event dropped user_id=%s type=%s", userID, event)
	}
}

func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.connections[userID]
	return exists
}

func (h *Hub) OnlineCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}

func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for userID, c := range h.connections {
		c.stop()
		delete(h.connections, userID)
	}
}
