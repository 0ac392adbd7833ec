package interfaces

import (
	"context"
	"time"

	"github.com/reclaimhq/reclaim/internal/models"
)

// Queue is a durable message queue with visibility-timeout redelivery.
// Receive returns the next visible message and a delete function the worker
// calls after processing.
type Queue interface {
	Name() string
	Enqueue(ctx context.Context, msg models.QueueMessage) error
	EnqueueWithDelay(ctx context.Context, msg models.QueueMessage, delay time.Duration) error
	Receive(ctx context.Context) (*models.QueueMessage, func() error, error)
	Cancel(ctx context.Context, jobID string) error
	Close() error
}

// WorkerPool manages concurrent consumers for one queue.
type WorkerPool interface {
	Start() error
	Stop() error
}
