package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"quizroom-server/internal/models"
)

// Message is the envelope every event on the channel uses.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins. Adjust this in production!
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type UserInfo struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}

// RoomServiceInterface is the slice of the room service the hub needs for
// on-demand requests. Injected at construction, never reached through a
// global.
type RoomServiceInterface interface {
	GetRoomByCode(code string) (*models.Room, error)
	PublishRoomStatusByCode(code string) error
	PublishLeaderboard(code string) error
}

// UserValidator gates identify messages so a connection can only bind to a
// registered user. auth.Service satisfies it.
type UserValidator interface {
	IsParticipantValid(userID uint) bool
}

// Hub fans room events out to every client subscribed to a room's topic.
// Publishing is best effort: a slow or dead client gets dropped, and no
// publish failure ever propagates back to the caller.
type Hub struct {
	clients       map[*Client]bool
	rooms         map[string]map[*Client]bool
	clientsByUser map[uint]*Client
	register      chan *Client
	unregister    chan *Client
	mu            sync.RWMutex
	roomService   RoomServiceInterface
	userValidator UserValidator
}

func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		rooms:         make(map[string]map[*Client]bool),
		clientsByUser: make(map[uint]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
	}
}

// SetRoomService wires the room service in after construction; the hub and
// the service reference each other, so one side binds late.
func (h *Hub) SetRoomService(service RoomServiceInterface) {
	h.roomService = service
}

// SetUserValidator wires the identity check used by identify messages.
func (h *Hub) SetUserValidator(validator UserValidator) {
	h.userValidator = validator
}

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	roomCode string
	user     *UserInfo
	done     chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, roomCode string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		roomCode: roomCode,
		done:     make(chan struct{}),
	}
}

// BroadcastMessage publishes one event on a room's topic. It satisfies the
// Broadcaster interfaces of the room and attempt services.
func (h *Hub) BroadcastMessage(roomCode string, messageType string, data interface{}) {
	msg := Message{
		Type: messageType,
		Data: data,
	}

	messageBytes, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling %s message: %v", messageType, err)
		return
	}

	h.broadcastToRoom(roomCode, messageBytes)
}

func (h *Hub) broadcastToRoom(roomCode string, message []byte) {
	h.mu.RLock()
	room := h.rooms[roomCode]
	clients := make([]*Client, 0, len(room))
	for client := range room {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// Send buffer full; drop the client rather than block a publish.
			h.unregister <- client
		}
	}
}

// SendMessageToUser targets a single connected participant.
func (h *Hub) SendMessageToUser(userID uint, messageType string, data interface{}) {
	h.mu.RLock()
	client, exists := h.clientsByUser[userID]
	h.mu.RUnlock()
	if !exists || client == nil {
		return
	}

	msg := Message{Type: messageType, Data: data}
	messageBytes, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling message for user %d: %v", userID, err)
		return
	}

	select {
	case client.send <- messageBytes:
	default:
		h.unregister <- client
	}
}

// Run owns the client maps; register/unregister flow through its channels.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if _, exists := h.rooms[client.roomCode]; !exists {
				h.rooms[client.roomCode] = make(map[*Client]bool)
			}
			h.rooms[client.roomCode][client] = true
			count := len(h.rooms[client.roomCode])
			h.mu.Unlock()

			log.Printf("Client subscribed to room %s (%d connected)", client.roomCode, count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				if room, exists := h.rooms[client.roomCode]; exists {
					delete(room, client)
					if len(room) == 0 {
						delete(h.rooms, client.roomCode)
					}
				}
				if client.user != nil {
					delete(h.clientsByUser, client.user.UserID)
				}
				delete(h.clients, client)
				close(client.send)
				close(client.done)
			}
			h.mu.Unlock()

			log.Printf("Client left room %s", client.roomCode)
		}
	}
}

// HandleWebSocket upgrades the connection and subscribes it to the room
// topic from the URL.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomCode := vars["roomCode"]
	if roomCode == "" {
		http.Error(w, "Missing room code", http.StatusBadRequest)
		return
	}

	if h.roomService != nil {
		if _, err := h.roomService.GetRoomByCode(roomCode); err != nil {
			http.Error(w, "Room not found", http.StatusNotFound)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := NewClient(h, conn, roomCode)
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Unexpected close on room %s: %v", c.roomCode, err)
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("Error unmarshaling client message: %v", err)
		return
	}

	switch msg.Type {
	case "identify":
		// Binds the connection to a user so targeted sends work.
		data, ok := msg.Data.(map[string]interface{})
		if !ok {
			return
		}
		userID, ok := data["userId"].(float64)
		if !ok {
			return
		}
		username, _ := data["username"].(string)

		if c.hub.userValidator != nil && !c.hub.userValidator.IsParticipantValid(uint(userID)) {
			log.Printf("Rejected identify for unknown user %d on room %s", uint(userID), c.roomCode)
			return
		}

		c.user = &UserInfo{UserID: uint(userID), Username: username}
		c.hub.mu.Lock()
		c.hub.clientsByUser[c.user.UserID] = c
		c.hub.mu.Unlock()

	case "room-status":
		// Client asks for the current timing/state snapshot.
		if c.hub.roomService == nil {
			return
		}
		if err := c.hub.roomService.PublishRoomStatusByCode(c.roomCode); err != nil {
			log.Printf("Error publishing room status for %s: %v", c.roomCode, err)
		}

	case "leaderboard":
		if c.hub.roomService == nil {
			return
		}
		if err := c.hub.roomService.PublishLeaderboard(c.roomCode); err != nil {
			log.Printf("Error broadcasting leaderboard for %s: %v", c.roomCode, err)
		}

	case "answer":
		// Best-effort liveness signal; no payload guarantee.
		if c.user != nil {
			c.hub.BroadcastMessage(c.roomCode, "answer-update", map[string]interface{}{
				"userId":  c.user.UserID,
				"message": "participant answered a question",
			})
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
