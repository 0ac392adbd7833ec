package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
)

// AuditStorage implements the AuditStore interface for Badger
type AuditStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAuditStorage creates a new AuditStorage instance
func NewAuditStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AuditStore {
	return &AuditStorage{
		db:     db,
		logger: logger,
	}
}

// Append writes one phase-transition entry. The audit trail is append-only:
// completion and failure are new entries, never updates to the start entry.
func (s *AuditStorage) Append(ctx context.Context, entry *models.PhaseLogEntry) error {
	if entry == nil {
		return fmt.Errorf("entry is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if err := s.db.Store().Insert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to append phase log entry: %w", err)
	}
	return nil
}

// HasCompleted is the idempotency point lookup: does a completed entry exist
// for (workflowID, phase)?
func (s *AuditStorage) HasCompleted(ctx context.Context, workflowID string, phase models.Phase) (bool, error) {
	count, err := s.db.Store().Count(&models.PhaseLogEntry{},
		badgerhold.Where("WorkflowID").Eq(workflowID).Index("WorkflowID").
			And("Phase").Eq(phase).
			And("Status").Eq(models.PhaseStatusCompleted))
	if err != nil {
		return false, fmt.Errorf("failed to check phase completion: %w", err)
	}
	return count > 0, nil
}

// WorkflowStatus returns the latest entry per phase for one workflow.
func (s *AuditStorage) WorkflowStatus(ctx context.Context, workflowID string) ([]models.PhaseState, error) {
	var entries []models.PhaseLogEntry
	if err := s.db.Store().Find(&entries,
		badgerhold.Where("WorkflowID").Eq(workflowID).Index("WorkflowID")); err != nil {
		return nil, fmt.Errorf("failed to load workflow history: %w", err)
	}

	latest := make(map[models.Phase]models.PhaseLogEntry)
	for _, e := range entries {
		if prev, ok := latest[e.Phase]; !ok || e.Timestamp.After(prev.Timestamp) {
			latest[e.Phase] = e
		}
	}

	states := make([]models.PhaseState, 0, len(latest))
	for p := models.MinPhase; p <= models.MaxPhase; p++ {
		e, ok := latest[p]
		if !ok {
			continue
		}
		states = append(states, models.PhaseState{
			Phase:      e.Phase,
			Status:     e.Status,
			Timestamp:  e.Timestamp,
			DurationMs: e.DurationMs,
			Error:      e.ErrorMessage,
		})
	}
	return states, nil
}

// Analytics aggregates per-phase counts and average duration since the given
// cutoff. BadgerHold has no server-side aggregation, so this folds in code.
func (s *AuditStorage) Analytics(ctx context.Context, since time.Time) ([]models.PhaseAnalytics, error) {
	var entries []models.PhaseLogEntry
	if err := s.db.Store().Find(&entries,
		badgerhold.Where("Timestamp").Ge(since)); err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}

	type agg struct {
		total      int
		completed  int
		failed     int
		durationMs int64
		durations  int
	}
	byPhase := make(map[models.Phase]*agg)

	for _, e := range entries {
		a, ok := byPhase[e.Phase]
		if !ok {
			a = &agg{}
			byPhase[e.Phase] = a
		}
		switch e.Status {
		case models.PhaseStatusStarted:
			a.total++
		case models.PhaseStatusCompleted:
			a.completed++
		case models.PhaseStatusFailed:
			a.failed++
		}
		if e.DurationMs != nil {
			a.durationMs += *e.DurationMs
			a.durations++
		}
	}

	results := make([]models.PhaseAnalytics, 0, len(byPhase))
	for p := models.MinPhase; p <= models.MaxPhase; p++ {
		a, ok := byPhase[p]
		if !ok {
			continue
		}
		stat := models.PhaseAnalytics{
			Phase:     p,
			Total:     a.total,
			Completed: a.completed,
			Failed:    a.failed,
		}
		if a.durations > 0 {
			stat.AvgDurationMs = float64(a.durationMs) / float64(a.durations)
		}
		results = append(results, stat)
	}
	return results, nil
}

// SLAViolations returns executions whose duration exceeded the phase's
// static threshold since the given cutoff. Derived from the audit entries,
// not separately maintained state.
func (s *AuditStorage) SLAViolations(ctx context.Context, since time.Time) ([]models.SLAViolation, error) {
	var entries []models.PhaseLogEntry
	if err := s.db.Store().Find(&entries,
		badgerhold.Where("Timestamp").Ge(since)); err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}

	var violations []models.SLAViolation
	for _, e := range entries {
		if e.DurationMs == nil {
			continue
		}
		threshold := e.Phase.SLAThreshold()
		if threshold <= 0 {
			continue
		}
		thresholdMs := threshold.Milliseconds()
		if *e.DurationMs > thresholdMs {
			violations = append(violations, models.SLAViolation{
				WorkflowID:  e.WorkflowID,
				UserID:      e.UserID,
				Phase:       e.Phase,
				DurationMs:  *e.DurationMs,
				ThresholdMs: thresholdMs,
				Timestamp:   e.Timestamp,
			})
		}
	}
	return violations, nil
}
