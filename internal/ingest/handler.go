package ingest

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emotion"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// Receiver принимает входящие данные устройств (session manager)
type Receiver interface {
	IngestFrame(ctx context.Context, sessionID string, frame emotion.SignalFrame) error
	IngestBiometric(ctx context.Context, sessionID string, reading fusion.BiometricReading) error
}

// Message — конверт входящего сообщения от устройства захвата
type Message struct {
	Type        string                      `json:"type"` // "frame" | "biometric" | "tracking_lost"
	TimestampMS int64                       `json:"timestamp_ms"`
	Channels    map[emotion.Channel]float64 `json:"channels,omitempty"`
	Quality     emotion.TrackingQuality     `json:"quality,omitempty"`
	Biometric   *fusion.BiometricReading    `json:"biometric,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// В продакшене следует проверять домен
		return true
	},
}

// Handler обслуживает WebSocket ingest от устройств захвата.
// Каждое соединение привязано к одной сессии через query параметр.
type Handler struct {
	receiver Receiver

	framesReceived     int64
	biometricsReceived int64
	messagesDropped    int64
}

// NewHandler создает новый ingest обработчик
func NewHandler(receiver Receiver) *Handler {
	return &Handler{receiver: receiver}
}

// HandleIngest обрабатывает WebSocket соединение устройства захвата.
// GET /ws/ingest?session_id={id}
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, `{"error": "session_id is required"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] Failed to upgrade ingest connection: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[INFO] Ingest connection opened: session=%s remote=%s", sessionID, r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ERROR] Ingest read error: session=%s err=%v", sessionID, err)
			}
			break
		}

		h.handleMessage(r.Context(), sessionID, data)
	}

	log.Printf("[INFO] Ingest connection closed: session=%s frames=%d biometrics=%d dropped=%d",
		sessionID,
		atomic.LoadInt64(&h.framesReceived),
		atomic.LoadInt64(&h.biometricsReceived),
		atomic.LoadInt64(&h.messagesDropped))
}

// handleMessage разбирает и маршрутизирует одно сообщение.
// Некорректный payload не роняет соединение: сообщение отбрасывается с учетом.
func (h *Handler) handleMessage(ctx context.Context, sessionID string, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		atomic.AddInt64(&h.messagesDropped, 1)
		log.Printf("[WARN] Dropping malformed ingest message: session=%s err=%v", sessionID, err)
		return
	}

	switch msg.Type {
	case "frame":
		frame := emotion.SignalFrame{
			Timestamp: time.UnixMilli(msg.TimestampMS),
			Channels:  msg.Channels,
			Quality:   msg.Quality,
		}
		if err := h.receiver.IngestFrame(ctx, sessionID, frame); err != nil {
			atomic.AddInt64(&h.messagesDropped, 1)
			log.Printf("[WARN] Failed to ingest frame: session=%s err=%v", sessionID, err)
			return
		}
		atomic.AddInt64(&h.framesReceived, 1)

	case "tracking_lost":
		// Потеря лица — валидное наблюдение, не дырка в данных
		frame := emotion.SignalFrame{
			Timestamp: time.UnixMilli(msg.TimestampMS),
			Quality:   emotion.QualityNoFace,
		}
		if err := h.receiver.IngestFrame(ctx, sessionID, frame); err != nil {
			atomic.AddInt64(&h.messagesDropped, 1)
			return
		}
		atomic.AddInt64(&h.framesReceived, 1)

	case "biometric":
		if msg.Biometric == nil {
			atomic.AddInt64(&h.messagesDropped, 1)
			log.Printf("[WARN] Biometric message without payload: session=%s", sessionID)
			return
		}
		reading := *msg.Biometric
		if reading.Timestamp.IsZero() {
			reading.Timestamp = time.UnixMilli(msg.TimestampMS)
		}
		if err := h.receiver.IngestBiometric(ctx, sessionID, reading); err != nil {
			atomic.AddInt64(&h.messagesDropped, 1)
			log.Printf("[WARN] Failed to ingest biometric: session=%s err=%v", sessionID, err)
			return
		}
		atomic.AddInt64(&h.biometricsReceived, 1)

	default:
		atomic.AddInt64(&h.messagesDropped, 1)
		log.Printf("[WARN] Unknown ingest message type %q: session=%s", msg.Type, sessionID)
	}
}

// Stats возвращает счетчики ingest для отладки
func (h *Handler) Stats() map[string]int64 {
	return map[string]int64{
		"frames_received":     atomic.LoadInt64(&h.framesReceived),
		"biometrics_received": atomic.LoadInt64(&h.biometricsReceived),
		"messages_dropped":    atomic.LoadInt64(&h.messagesDropped),
	}
}
