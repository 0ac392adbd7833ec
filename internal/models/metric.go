package models

import "time"

// Metric names emitted by the orchestrator.
const (
	MetricPhaseStarted    = "workflow_phase_started"
	MetricPhaseCompleted  = "workflow_phase_completed"
	MetricPhaseFailed     = "workflow_phase_failed"
	MetricPhaseRolledBack = "workflow_phase_rolled_back"
	MetricSLAViolation    = "workflow_sla_violation"
)

// MetricEvent is a write-once row persisted to the metrics store and echoed
// to the structured log for scrape ingestion. Never read back by the core.
type MetricEvent struct {
	ID        string            `json:"id" badgerhold:"key"`
	Name      string            `json:"metric_name" badgerholdIndex:"Name"`
	Labels    map[string]string `json:"labels"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}
