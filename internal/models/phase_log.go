package models

import (
	"time"
)

// PhaseStatus is the terminal or in-flight state recorded for a phase
// transition attempt.
type PhaseStatus string

const (
	PhaseStatusStarted    PhaseStatus = "started"
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusFailed     PhaseStatus = "failed"
	PhaseStatusRolledBack PhaseStatus = "rolled_back"
)

// PhaseLogEntry is one append-only record per phase-transition attempt.
// Entries are never mutated after a terminal status is written; completion
// and failure are recorded as separate entries from the start entry.
type PhaseLogEntry struct {
	ID         string      `json:"id" badgerhold:"key"`
	WorkflowID string      `json:"workflow_id" badgerholdIndex:"WorkflowID"`
	UserID     string      `json:"user_id" badgerholdIndex:"UserID"`
	Phase      Phase       `json:"phase_number"`
	Status     PhaseStatus `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`

	// DurationMs is populated only on completed/failed entries.
	DurationMs *int64 `json:"duration_ms,omitempty"`

	// PreviousPhase is set on rollback entries to record the phase that failed.
	PreviousPhase *Phase `json:"previous_phase,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorStack   string `json:"error_stack,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	RollbackTriggered bool   `json:"rollback_triggered"`
	RollbackToPhase   *Phase `json:"rollback_to_phase,omitempty"`
}

// PhaseAnalytics aggregates audit entries for one phase over a time window.
type PhaseAnalytics struct {
	Phase         Phase   `json:"phase_number"`
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// SLAViolation is a completed or failed phase execution whose duration
// exceeded the phase's static threshold.
type SLAViolation struct {
	WorkflowID  string    `json:"workflow_id"`
	UserID      string    `json:"user_id"`
	Phase       Phase     `json:"phase_number"`
	DurationMs  int64     `json:"duration_ms"`
	ThresholdMs int64     `json:"threshold_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// PhaseState is the latest known status for one phase of a workflow,
// returned by the HTTP status read path.
type PhaseState struct {
	Phase      Phase       `json:"phase_number"`
	Status     PhaseStatus `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	DurationMs *int64      `json:"duration_ms,omitempty"`
	Error      string      `json:"error,omitempty"`
}
