package badger

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/reclaimhq/reclaim/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	tmpDir := t.TempDir()

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store}
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestAuditAppendAndHasCompleted(t *testing.T) {
	db := newTestDB(t)
	storage := NewAuditStorage(db, arbor.NewLogger())
	ctx := context.Background()

	// No entries yet
	done, err := storage.HasCompleted(ctx, "wf-1", models.PhaseOnboarding)
	if err != nil {
		t.Fatalf("HasCompleted failed: %v", err)
	}
	if done {
		t.Error("Expected no completed entry for empty store")
	}

	// Started entry alone does not count as completed
	if err := storage.Append(ctx, &models.PhaseLogEntry{
		WorkflowID: "wf-1",
		UserID:     "user-1",
		Phase:      models.PhaseOnboarding,
		Status:     models.PhaseStatusStarted,
	}); err != nil {
		t.Fatalf("Failed to append started entry: %v", err)
	}

	done, err = storage.HasCompleted(ctx, "wf-1", models.PhaseOnboarding)
	if err != nil {
		t.Fatalf("HasCompleted failed: %v", err)
	}
	if done {
		t.Error("Started entry should not count as completed")
	}

	// Completed entry flips the check
	if err := storage.Append(ctx, &models.PhaseLogEntry{
		WorkflowID: "wf-1",
		UserID:     "user-1",
		Phase:      models.PhaseOnboarding,
		Status:     models.PhaseStatusCompleted,
		DurationMs: int64Ptr(1200),
	}); err != nil {
		t.Fatalf("Failed to append completed entry: %v", err)
	}

	done, err = storage.HasCompleted(ctx, "wf-1", models.PhaseOnboarding)
	if err != nil {
		t.Fatalf("HasCompleted failed: %v", err)
	}
	if !done {
		t.Error("Expected completed entry to be found")
	}

	// Other workflows and phases remain unaffected
	done, err = storage.HasCompleted(ctx, "wf-2", models.PhaseOnboarding)
	if err != nil {
		t.Fatalf("HasCompleted failed: %v", err)
	}
	if done {
		t.Error("Completion must not leak across workflows")
	}

	done, err = storage.HasCompleted(ctx, "wf-1", models.PhaseDiscovery)
	if err != nil {
		t.Fatalf("HasCompleted failed: %v", err)
	}
	if done {
		t.Error("Completion must not leak across phases")
	}
}

func TestAuditWorkflowStatusLatestPerPhase(t *testing.T) {
	db := newTestDB(t)
	storage := NewAuditStorage(db, arbor.NewLogger())
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)

	entries := []*models.PhaseLogEntry{
		{WorkflowID: "wf-1", UserID: "user-1", Phase: models.PhaseOnboarding, Status: models.PhaseStatusStarted, Timestamp: base},
		{WorkflowID: "wf-1", UserID: "user-1", Phase: models.PhaseOnboarding, Status: models.PhaseStatusCompleted, Timestamp: base.Add(2 * time.Second), DurationMs: int64Ptr(2000)},
		{WorkflowID: "wf-1", UserID: "user-1", Phase: models.PhaseDiscovery, Status: models.PhaseStatusStarted, Timestamp: base.Add(3 * time.Second)},
		{WorkflowID: "wf-1", UserID: "user-1", Phase: models.PhaseDiscovery, Status: models.PhaseStatusFailed, Timestamp: base.Add(8 * time.Second), ErrorMessage: "sync timed out"},
		{WorkflowID: "wf-other", UserID: "user-2", Phase: models.PhaseOnboarding, Status: models.PhaseStatusCompleted, Timestamp: base},
	}
	for _, e := range entries {
		if err := storage.Append(ctx, e); err != nil {
			t.Fatalf("Failed to append entry: %v", err)
		}
	}

	states, err := storage.WorkflowStatus(ctx, "wf-1")
	if err != nil {
		t.Fatalf("WorkflowStatus failed: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("Expected 2 phase states, got %d", len(states))
	}

	if states[0].Phase != models.PhaseOnboarding || states[0].Status != models.PhaseStatusCompleted {
		t.Errorf("Expected phase 1 completed, got phase %d %s", states[0].Phase, states[0].Status)
	}
	if states[1].Phase != models.PhaseDiscovery || states[1].Status != models.PhaseStatusFailed {
		t.Errorf("Expected phase 2 failed, got phase %d %s", states[1].Phase, states[1].Status)
	}
	if states[1].Error != "sync timed out" {
		t.Errorf("Expected failure message on latest entry, got %q", states[1].Error)
	}
}

func TestAuditAnalyticsAggregation(t *testing.T) {
	db := newTestDB(t)
	storage := NewAuditStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now()

	entries := []*models.PhaseLogEntry{
		{WorkflowID: "wf-1", Phase: models.PhaseEvidence, Status: models.PhaseStatusStarted, Timestamp: now},
		{WorkflowID: "wf-1", Phase: models.PhaseEvidence, Status: models.PhaseStatusCompleted, Timestamp: now, DurationMs: int64Ptr(1000)},
		{WorkflowID: "wf-2", Phase: models.PhaseEvidence, Status: models.PhaseStatusStarted, Timestamp: now},
		{WorkflowID: "wf-2", Phase: models.PhaseEvidence, Status: models.PhaseStatusCompleted, Timestamp: now, DurationMs: int64Ptr(3000)},
		{WorkflowID: "wf-3", Phase: models.PhaseEvidence, Status: models.PhaseStatusFailed, Timestamp: now, DurationMs: int64Ptr(500)},
		// Outside the window, must be excluded
		{WorkflowID: "wf-old", Phase: models.PhaseEvidence, Status: models.PhaseStatusCompleted, Timestamp: now.Add(-48 * time.Hour), DurationMs: int64Ptr(9000)},
	}
	for _, e := range entries {
		if err := storage.Append(ctx, e); err != nil {
			t.Fatalf("Failed to append entry: %v", err)
		}
	}

	results, err := storage.Analytics(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Analytics failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected analytics for 1 phase, got %d", len(results))
	}

	r := results[0]
	if r.Phase != models.PhaseEvidence {
		t.Errorf("Expected phase 3, got %d", r.Phase)
	}
	if r.Total != 2 {
		t.Errorf("Expected 2 started, got %d", r.Total)
	}
	if r.Completed != 2 {
		t.Errorf("Expected 2 completed, got %d", r.Completed)
	}
	if r.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", r.Failed)
	}
	if r.AvgDurationMs != 1500 {
		t.Errorf("Expected avg duration 1500ms, got %f", r.AvgDurationMs)
	}
}

func TestAuditSLAViolations(t *testing.T) {
	db := newTestDB(t)
	storage := NewAuditStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now()

	// Phase 5 threshold is 10s; 12s is a violation, 8s is not.
	entries := []*models.PhaseLogEntry{
		{WorkflowID: "wf-slow", UserID: "user-1", Phase: models.PhaseRecovery, Status: models.PhaseStatusCompleted, Timestamp: now, DurationMs: int64Ptr(12000)},
		{WorkflowID: "wf-fast", UserID: "user-2", Phase: models.PhaseRecovery, Status: models.PhaseStatusCompleted, Timestamp: now, DurationMs: int64Ptr(8000)},
		{WorkflowID: "wf-started", UserID: "user-3", Phase: models.PhaseRecovery, Status: models.PhaseStatusStarted, Timestamp: now},
	}
	for _, e := range entries {
		if err := storage.Append(ctx, e); err != nil {
			t.Fatalf("Failed to append entry: %v", err)
		}
	}

	violations, err := storage.SLAViolations(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("SLAViolations failed: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("Expected 1 violation, got %d", len(violations))
	}
	if violations[0].WorkflowID != "wf-slow" {
		t.Errorf("Expected wf-slow, got %s", violations[0].WorkflowID)
	}
	if violations[0].ThresholdMs != 10000 {
		t.Errorf("Expected 10000ms threshold, got %d", violations[0].ThresholdMs)
	}
}
