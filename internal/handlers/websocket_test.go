package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
	"github.com/reclaimhq/reclaim/internal/services/events"
)

func dialWS(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Consume the connected handshake message
	var hello WSMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "connected", hello.Type)

	return conn
}

func TestNotifyUserReachesOnlyThatRoom(t *testing.T) {
	logger := arbor.NewLogger()
	h := NewWebSocketHandler(nil, logger, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	server := httptest.NewServer(mux)
	defer server.Close()

	connA := dialWS(t, server, "user-a")
	connB := dialWS(t, server, "user-b")

	// Push through the Notifier interface the way wiring code holds it
	var notifier interfaces.Notifier = h
	notifier.NotifyUser("user-a", "workflow.phase.1.completed", models.PhaseNotification{
		Phase:     1,
		Event:     "completed",
		Timestamp: time.Now(),
		SyncID:    "sync-1",
	})

	var msg WSMessage
	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, connA.ReadJSON(&msg))
	assert.Equal(t, "workflow.phase.1.completed", msg.Type)

	payload, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	var notification models.PhaseNotification
	require.NoError(t, json.Unmarshal(payload, &notification))
	assert.Equal(t, 1, notification.Phase)
	assert.Equal(t, "sync-1", notification.SyncID)

	// user-b must not receive user-a's event
	connB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray WSMessage
	err = connB.ReadJSON(&stray)
	assert.Error(t, err, "Other rooms must not receive the event")
}

func TestNotifyUserMultipleConnectionsOneRoom(t *testing.T) {
	logger := arbor.NewLogger()
	h := NewWebSocketHandler(nil, logger, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn1 := dialWS(t, server, "user-a")
	conn2 := dialWS(t, server, "user-a")

	h.NotifyUser("user-a", "workflow.phase.2.started", models.PhaseNotification{Phase: 2, Event: "started"})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		var msg WSMessage
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "workflow.phase.2.started", msg.Type)
	}
}

func TestNotifyUserWithNoConnectionsDropsEvent(t *testing.T) {
	h := NewWebSocketHandler(nil, arbor.NewLogger(), nil)

	// Must not panic or block
	h.NotifyUser("user-ghost", "workflow.phase.1.failed", models.PhaseNotification{Phase: 1})
	assert.Equal(t, 0, h.ConnectedUsers())
}

func TestWebSocketRequiresUserID(t *testing.T) {
	h := NewWebSocketHandler(nil, arbor.NewLogger(), nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLifecycleEventsFlowThroughEventBus(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	h := NewWebSocketHandler(eventService, logger, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialWS(t, server, "user-a")

	err := eventService.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventPhaseLifecycle,
		Payload: models.PhaseLifecycleEvent{
			UserID: "user-a",
			Event:  "workflow.phase.3.completed",
			Notification: models.PhaseNotification{
				Phase: 3,
				Event: "completed",
			},
		},
	})
	require.NoError(t, err)

	var msg WSMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "workflow.phase.3.completed", msg.Type)
}
