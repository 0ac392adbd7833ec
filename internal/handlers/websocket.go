package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/reclaimhq/reclaim/internal/common"
	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every outbound WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler maintains per-user rooms of connections and pushes phase
// lifecycle events to them. Delivery is at-most-once: events for users with
// no active connection are dropped, reconnecting clients catch up via the
// HTTP status endpoint.
type WebSocketHandler struct {
	logger              arbor.ILogger
	rooms               map[string]map[*websocket.Conn]bool
	connMutex           map[*websocket.Conn]*sync.Mutex
	mu                  sync.RWMutex
	eventService        interfaces.EventService
	queueStatsThrottler *rate.Limiter
	serverInstanceID    string
}

var _ interfaces.Notifier = (*WebSocketHandler)(nil)

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		rooms:            make(map[string]map[*websocket.Conn]bool),
		connMutex:        make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		serverInstanceID: uuid.New().String(),
	}

	// Throttlers only exist when explicitly configured; nil means unthrottled
	if config != nil {
		if intervalStr, ok := config.ThrottleIntervals["queue_stats"]; ok {
			if duration, err := time.ParseDuration(intervalStr); err == nil {
				h.queueStatsThrottler = rate.NewLimiter(rate.Every(duration), 1)
			} else {
				logger.Warn().
					Err(err).
					Str("interval", intervalStr).
					Msg("Failed to parse queue_stats throttle interval, throttler disabled")
			}
		}
	}

	if eventService != nil {
		h.subscribeToEvents()
	}

	return h
}

// subscribeToEvents wires the pub/sub bus into the push channel.
func (h *WebSocketHandler) subscribeToEvents() {
	h.eventService.Subscribe(interfaces.EventPhaseLifecycle, func(ctx context.Context, event interfaces.Event) error {
		lifecycle, ok := event.Payload.(models.PhaseLifecycleEvent)
		if !ok {
			return nil
		}
		h.NotifyUser(lifecycle.UserID, lifecycle.Event, lifecycle.Notification)
		return nil
	})

	h.eventService.Subscribe(interfaces.EventQueueStats, func(ctx context.Context, event interfaces.Event) error {
		if h.queueStatsThrottler != nil && !h.queueStatsThrottler.Allow() {
			return nil
		}
		h.broadcast(WSMessage{Type: "queue_stats", Payload: event.Payload})
		return nil
	})
}

// HandleWebSocket upgrades the connection and registers it in the caller's
// room. The user_id query parameter selects the room.
// GET /ws?user_id={id}
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	if h.rooms[userID] == nil {
		h.rooms[userID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[userID][conn] = true
	h.connMutex[conn] = &sync.Mutex{}
	roomSize := len(h.rooms[userID])
	h.mu.Unlock()

	h.logger.Debug().
		Str("user_id", userID).
		Int("connections", roomSize).
		Msg("WebSocket client connected")

	h.sendToConn(conn, WSMessage{
		Type: "connected",
		Payload: map[string]string{
			"user_id":            userID,
			"server_instance_id": h.serverInstanceID,
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.rooms[userID], conn)
		if len(h.rooms[userID]) == 0 {
			delete(h.rooms, userID)
		}
		delete(h.connMutex, conn)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().
			Str("user_id", userID).
			Msg("WebSocket client disconnected")
	}()

	// Read loop keeps the connection alive and detects disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// NotifyUser delivers a named event to every connection in the user's room.
// Non-blocking for the caller; failed sends only drop that connection's copy.
func (h *WebSocketHandler) NotifyUser(userID, event string, payload models.PhaseNotification) {
	data, err := json.Marshal(WSMessage{Type: event, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal notification")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[userID]))
	mutexes := make([]*sync.Mutex, 0, len(h.rooms[userID]))
	for conn := range h.rooms[userID] {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.connMutex[conn])
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		h.logger.Debug().
			Str("user_id", userID).
			Str("event", event).
			Msg("No active connections for user, dropping event")
		return
	}

	for i, conn := range conns {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()

		if err != nil {
			h.logger.Warn().
				Err(err).
				Str("user_id", userID).
				Str("event", event).
				Msg("Failed to push event to client")
		}
	}
}

// broadcast sends a message to every connection in every room
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0)
	mutexes := make([]*sync.Mutex, 0)
	for _, room := range h.rooms {
		for conn := range room {
			conns = append(conns, conn)
			mutexes = append(mutexes, h.connMutex[conn])
		}
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to broadcast to client")
		}
	}
}

func (h *WebSocketHandler) sendToConn(conn *websocket.Conn, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	mutex := h.connMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send message to client")
	}
}

// ConnectedUsers returns the number of distinct rooms with live connections
func (h *WebSocketHandler) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
