package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
)

// JobStateStorage implements durable queue job records for Badger
type JobStateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStateStorage creates a new JobStateStorage instance
func NewJobStateStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStateStorage {
	return &JobStateStorage{
		db:     db,
		logger: logger,
	}
}

// SaveJobState inserts or replaces one job record.
func (s *JobStateStorage) SaveJobState(ctx context.Context, job *models.QueueJobState) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job with ID is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Heartbeat.IsZero() {
		job.Heartbeat = job.CreatedAt
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job state %s: %w", job.ID, err)
	}
	return nil
}

// GetJobState returns the record for one job, or nil when unknown.
func (s *JobStateStorage) GetJobState(ctx context.Context, jobID string) (*models.QueueJobState, error) {
	var job models.QueueJobState
	err := s.db.Store().Get(jobID, &job)
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job state %s: %w", jobID, err)
	}
	return &job, nil
}

// UpdateJobStatus moves a job to a new lifecycle state, stamping start and
// completion times as appropriate.
func (s *JobStateStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMsg string) error {
	var job models.QueueJobState
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("job %s not found", jobID)
		}
		return fmt.Errorf("failed to load job state %s: %w", jobID, err)
	}

	now := time.Now()
	job.Status = status
	job.Error = errorMsg
	job.Heartbeat = now

	switch status {
	case models.JobStatusActive:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		job.CompletedAt = &now
	}

	if err := s.db.Store().Update(jobID, &job); err != nil {
		return fmt.Errorf("failed to update job state %s: %w", jobID, err)
	}
	return nil
}

// Touch refreshes the heartbeat on an active job so the stale-job detector
// leaves it alone.
func (s *JobStateStorage) Touch(ctx context.Context, jobID string) error {
	var job models.QueueJobState
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("job %s not found", jobID)
		}
		return fmt.Errorf("failed to load job state %s: %w", jobID, err)
	}

	job.Heartbeat = time.Now()
	if err := s.db.Store().Update(jobID, &job); err != nil {
		return fmt.Errorf("failed to touch job %s: %w", jobID, err)
	}
	return nil
}

// HasInFlight reports whether a waiting or active job already exists for the
// same (userID, syncID, step) on the given queue. This backs the enqueue-time
// idempotency check.
func (s *JobStateStorage) HasInFlight(ctx context.Context, queue, userID, syncID string, step models.Phase) (bool, error) {
	count, err := s.db.Store().Count(&models.QueueJobState{},
		badgerhold.Where("Queue").Eq(queue).Index("Queue").
			And("UserID").Eq(userID).
			And("SyncID").Eq(syncID).
			And("Step").Eq(step).
			And("Status").In(models.JobStatusWaiting, models.JobStatusActive))
	if err != nil {
		return false, fmt.Errorf("failed to check in-flight jobs: %w", err)
	}
	return count > 0, nil
}

// QueueStats counts jobs by state for one queue. BadgerHold has no
// aggregation, so this folds in code.
func (s *JobStateStorage) QueueStats(ctx context.Context, queue string) (*models.QueueStats, error) {
	var jobs []models.QueueJobState
	if err := s.db.Store().Find(&jobs,
		badgerhold.Where("Queue").Eq(queue).Index("Queue")); err != nil {
		return nil, fmt.Errorf("failed to load jobs for queue %s: %w", queue, err)
	}

	stats := &models.QueueStats{Queue: queue}
	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusWaiting:
			stats.Waiting++
		case models.JobStatusActive:
			stats.Active++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// GetStaleActive returns active jobs whose heartbeat is older than the given
// duration. The stale-job detector fails these.
func (s *JobStateStorage) GetStaleActive(ctx context.Context, olderThan time.Duration) ([]*models.QueueJobState, error) {
	cutoff := time.Now().Add(-olderThan)

	var jobs []models.QueueJobState
	if err := s.db.Store().Find(&jobs,
		badgerhold.Where("Status").Eq(models.JobStatusActive).Index("Status")); err != nil {
		return nil, fmt.Errorf("failed to load active jobs: %w", err)
	}

	var stale []*models.QueueJobState
	for i := range jobs {
		if jobs[i].Heartbeat.Before(cutoff) {
			stale = append(stale, &jobs[i])
		}
	}
	return stale, nil
}
