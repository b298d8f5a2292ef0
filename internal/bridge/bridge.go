package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/clawdeck/clawdeck/internal/auth"
	"github.com/clawdeck/clawdeck/internal/logger"
)

// GlobalRoom receives events that are not scoped to one thread.
const GlobalRoom = "__global__"

// Message is the outbound frame shape consumed by the browser's realtime hook.
type Message struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"threadId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	rooms  map[string]bool
	closed bool
}

// Hub fans gateway-origin events out to browser sockets grouped into rooms
// (GlobalRoom or a thread id). Rooms are created lazily on first subscribe
// and dropped when the last subscriber leaves; nothing is persisted.
// Delivery is at-most-once: a socket whose send buffer is full is evicted
// rather than queued against.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Client]bool

	auth *auth.Service
	port int
}

func NewHub(authService *auth.Service, port int) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]bool),
		auth:  authService,
		port:  port,
	}
}

func (h *Hub) Subscribe(room string, c *Client) {
	if room == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	c.rooms[room] = true
}

func (h *Hub) Unsubscribe(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(room, c)
}

func (h *Hub) dropLocked(room string, c *Client) {
	if subs := h.rooms[room]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// evictLocked removes a client from every room and closes its send channel.
func (h *Hub) evictLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	for room := range c.rooms {
		h.dropLocked(room, c)
	}
	close(c.send)
}

// Broadcast delivers msg to the current subscribers of room only.
func (h *Hub) Broadcast(room string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to marshal broadcast message: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		h.sendLocked(c, data)
	}
}

// BroadcastAll delivers msg to every subscriber of every room, once per
// socket even when it sits in several rooms.
func (h *Hub) BroadcastAll(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to marshal broadcast message: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[*Client]bool)
	for _, subs := range h.rooms {
		for c := range subs {
			if seen[c] {
				continue
			}
			seen[c] = true
			h.sendLocked(c, data)
		}
	}
}

// broadcastRaw relays an opaque inbound frame to the other subscribers of a
// room.
func (h *Hub) broadcastRaw(room string, data []byte, except *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		h.sendLocked(c, data)
	}
}

func (h *Hub) sendLocked(c *Client, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		h.evictLocked(c)
	}
}

// RoomSize reports the current subscriber count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// HandleWS upgrades a browser socket and subscribes it to the room named in
// the query string (GlobalRoom when omitted).
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := h.authenticate(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		rooms:  make(map[string]bool),
	}

	room := r.URL.Query().Get("room")
	if room == "" {
		room = GlobalRoom
	}
	h.Subscribe(room, client)
	logger.WS("connected", fmt.Sprintf("%s room=%s", userID, room))

	go client.writePump()
	go client.readPump()
}

func (h *Hub) authenticate(r *http.Request) string {
	tokenStr := ""
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		tokenStr = cookie.Value
	}
	if tokenStr == "" {
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 {
				tokenStr = parts[1]
			}
		}
	}
	if tokenStr == "" {
		tokenStr = r.URL.Query().Get("ticket")
	}
	if tokenStr == "" {
		return ""
	}
	claims, err := h.auth.ValidateToken(tokenStr)
	if err != nil {
		return ""
	}
	return claims.UserID
}

func (h *Hub) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	allowed := []string{
		fmt.Sprintf("http://localhost:%d", h.port),
		fmt.Sprintf("http://127.0.0.1:%d", h.port),
		fmt.Sprintf("https://localhost:%d", h.port),
		fmt.Sprintf("https://127.0.0.1:%d", h.port),
		"http://localhost:5173",
	}
	for _, a := range allowed {
		if origin == a {
			return true
		}
	}
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.mu.Lock()
		c.hub.evictLocked(c)
		c.hub.mu.Unlock()
		c.conn.Close()
		logger.WS("disconnected", c.userID)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var ctl struct {
			Type string `json:"type"`
			Room string `json:"room"`
		}
		if json.Unmarshal(data, &ctl) == nil {
			switch ctl.Type {
			case "subscribe":
				c.hub.Subscribe(ctl.Room, c)
				continue
			case "unsubscribe":
				c.hub.Unsubscribe(ctl.Room, c)
				continue
			}
		}

		// Anything else is opaque JSON relayed to the client's rooms.
		c.hub.mu.Lock()
		rooms := make([]string, 0, len(c.rooms))
		for room := range c.rooms {
			rooms = append(rooms, room)
		}
		c.hub.mu.Unlock()
		for _, room := range rooms {
			c.hub.broadcastRaw(room, data, c)
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
