package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/pipeline"
)

// Hub управляет WebSocket соединениями для живого потока состояний
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Канал для регистрации клиентов
	register chan *Client

	// Канал для отмены регистрации клиентов
	unregister chan *Client

	// Канал исходящих обновлений
	broadcast chan envelope

	mu sync.RWMutex
}

// Client представляет WebSocket клиента
type Client struct {
	hub *Hub

	conn *websocket.Conn

	// Буферизованный канал исходящих сообщений
	send chan []byte

	// ID сессии для фильтрации потока; пустой — получать все сессии
	sessionID string
}

type envelope struct {
	sessionID string
	payload   []byte
}

// StateMessage — формат живого обновления для фронтенда
type StateMessage struct {
	Type       string           `json:"type"`
	SessionID  string           `json:"session_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Emotional  emotionalPayload `json:"emotional"`
	Integrated json.RawMessage  `json:"integrated"`
}

type emotionalPayload struct {
	Primary          string             `json:"primary"`
	PrimaryIntensity float64            `json:"primary_intensity"`
	Secondary        map[string]float64 `json:"secondary,omitempty"`
	Confidence       float64            `json:"confidence"`
	MicroCount       int                `json:"micro_count"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// В продакшене следует проверять домен
		return true
	},
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 256),
	}
}

// Run запускает Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[WEBSOCKET] Client registered: %p, session: %s", client, client.sessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("[WEBSOCKET] Client unregistered: %p", client)

		case env := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.sessionID != "" && client.sessionID != env.sessionID {
					continue
				}
				select {
				case client.send <- env.payload:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastUpdate отправляет обновление состояния подписчикам сессии
func (h *Hub) BroadcastUpdate(u pipeline.StateUpdate) {
	integrated, err := json.Marshal(u.Integrated)
	if err != nil {
		log.Printf("[ERROR] Failed to marshal integrated state: %v", err)
		return
	}

	secondary := make(map[string]float64, len(u.Emotional.Secondary))
	for em, score := range u.Emotional.Secondary {
		secondary[string(em)] = score
	}

	msg := StateMessage{
		Type:      "state_update",
		SessionID: u.SessionID,
		Timestamp: u.Integrated.Timestamp,
		Emotional: emotionalPayload{
			Primary:          string(u.Emotional.Primary),
			PrimaryIntensity: u.Emotional.PrimaryIntensity,
			Secondary:        secondary,
			Confidence:       u.Emotional.Confidence,
			MicroCount:       len(u.Emotional.MicroExpressions),
		},
		Integrated: integrated,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ERROR] Failed to marshal state message: %v", err)
		return
	}

	select {
	case h.broadcast <- envelope{sessionID: u.SessionID, payload: payload}:
	default:
		log.Printf("[WARN] Broadcast channel full, dropping message")
	}
}

// HandleWebSocket обрабатывает WebSocket соединения подписчиков
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] Failed to upgrade connection: %v", err)
		return
	}

	sessionID := r.URL.Query().Get("session_id")

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: sessionID,
	}

	client.hub.register <- client

	// Запускаем горутины для клиента
	go client.writePump()
	go client.readPump()
}

// readPump обрабатывает входящие сообщения от клиента
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ERROR] WebSocket error: %v", err)
			}
			break
		}
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("[ERROR] Failed to write message: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
