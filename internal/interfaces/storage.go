package interfaces

import (
	"context"
	"time"

	"github.com/reclaimhq/reclaim/internal/models"
)

// AuditStore is the append-only history of phase transitions plus the read
// paths the orchestrator and HTTP layer need. A write failure must never
// abort phase execution; callers log and continue.
type AuditStore interface {
	// Append writes one phase-transition entry. Entries are never updated.
	Append(ctx context.Context, entry *models.PhaseLogEntry) error

	// HasCompleted reports whether a completed entry exists for
	// (workflowID, phase). This is the idempotency point lookup.
	HasCompleted(ctx context.Context, workflowID string, phase models.Phase) (bool, error)

	// WorkflowStatus returns the latest entry per phase for one workflow.
	WorkflowStatus(ctx context.Context, workflowID string) ([]models.PhaseState, error)

	// Analytics aggregates per-phase totals and average duration since the
	// given cutoff.
	Analytics(ctx context.Context, since time.Time) ([]models.PhaseAnalytics, error)

	// SLAViolations returns entries whose duration exceeded the phase
	// threshold since the given cutoff.
	SLAViolations(ctx context.Context, since time.Time) ([]models.SLAViolation, error)
}

// MetricStorage persists write-once metric rows.
type MetricStorage interface {
	SaveMetric(ctx context.Context, metric *models.MetricEvent) error
}

// JobStateStorage tracks queue job records by state for stats, cancel and
// the in-flight idempotency check.
type JobStateStorage interface {
	SaveJobState(ctx context.Context, job *models.QueueJobState) error
	GetJobState(ctx context.Context, jobID string) (*models.QueueJobState, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMsg string) error
	Touch(ctx context.Context, jobID string) error

	// HasInFlight reports whether a waiting or active job exists for the
	// same (userID, syncID, step) on the given queue.
	HasInFlight(ctx context.Context, queue, userID, syncID string, step models.Phase) (bool, error)

	QueueStats(ctx context.Context, queue string) (*models.QueueStats, error)
	GetStaleActive(ctx context.Context, olderThan time.Duration) ([]*models.QueueJobState, error)
}

// StorageManager bundles the Badger-backed stores behind one lifecycle.
type StorageManager interface {
	AuditStore() AuditStore
	MetricStorage() MetricStorage
	JobStateStorage() JobStateStorage
	Close() error
}
