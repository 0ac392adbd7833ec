package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNoMessage is returned when the queue has no visible messages.
var ErrNoMessage = errors.New("no messages in queue")

// Queue names for the two logical stages.
const (
	QueueOrchestration = "orchestration"
	QueueSyncProgress  = "sync-progress"
)

// JobStatus is the lifecycle state of a queue job.
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// QueueMessage is the structure stored in the queue. Keep it small - just
// enough to route the phase job.
type QueueMessage struct {
	JobID   string          `json:"job_id"`
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload"`
}

// PhaseJobPayload is the orchestration-queue payload interpreted by the
// phase consumer. Step carries the phase number.
type PhaseJobPayload struct {
	UserID      string                 `json:"user_id"`
	SellerID    string                 `json:"seller_id,omitempty"`
	SyncID      string                 `json:"sync_id"`
	Step        Phase                  `json:"step"`
	TotalSteps  int                    `json:"total_steps"`
	CurrentStep string                 `json:"current_step"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// QueueJobState is the durable per-job record kept alongside the queue
// message. It backs the in-flight idempotency check, the cancel operation
// and the queue stats snapshot; the message itself is deleted on delivery.
type QueueJobState struct {
	ID          string     `json:"id" badgerhold:"key"`
	Queue       string     `json:"queue" badgerholdIndex:"Queue"`
	UserID      string     `json:"user_id" badgerholdIndex:"UserID"`
	SyncID      string     `json:"sync_id"`
	Step        Phase      `json:"step"`
	Status      JobStatus  `json:"status" badgerholdIndex:"Status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Heartbeat   time.Time  `json:"heartbeat"`
}

// QueueStats is a read-only snapshot of job counts by state for one queue.
type QueueStats struct {
	Queue     string `json:"queue"`
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
}
