package models

import "time"

// PhaseLifecycleEvent is the pub/sub payload carrying a phase notification
// to the user's WebSocket room.
type PhaseLifecycleEvent struct {
	UserID       string            `json:"user_id"`
	Event        string            `json:"event"`
	Notification PhaseNotification `json:"notification"`
}

// PhaseNotification is the WebSocket payload for a phase lifecycle event.
type PhaseNotification struct {
	Phase     int                    `json:"phase"`
	Event     string                 `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	SyncID    string                 `json:"syncId"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
}
