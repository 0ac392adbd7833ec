package interfaces

import (
	"context"

	"github.com/reclaimhq/reclaim/internal/models"
)

// MetricsSink emits phase lifecycle metrics. Fire-and-forget: implementations
// catch and log their own failures, never surfacing them to the caller.
type MetricsSink interface {
	Emit(ctx context.Context, name string, labels map[string]string, value float64)
}

// Notifier pushes named events with a JSON payload to a user's connected
// clients. Delivery is at-most-once and non-blocking; events for users with
// no active connection are dropped.
type Notifier interface {
	NotifyUser(userID, event string, payload models.PhaseNotification)
}
