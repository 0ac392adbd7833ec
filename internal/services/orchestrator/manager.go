package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/common"
	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
	"github.com/reclaimhq/reclaim/internal/services/collaborators"
)

// submitConfidenceThreshold routes claim matches in phase 4: at or above it
// claims are submitted automatically, below it the user is asked to clarify.
const submitConfidenceThreshold = 0.8

// TriggerRequest is the uniform input shape for triggering any phase.
type TriggerRequest struct {
	UserID   string                 `json:"user_id" validate:"required"`
	SellerID string                 `json:"seller_id,omitempty"`
	SyncID   string                 `json:"sync_id,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// workflowID returns the audit grouping key. The sync ID is the caller's
// workflow identifier; before one exists (fresh phase-1 trigger) entries
// group under the user ID.
func (r *TriggerRequest) workflowID() string {
	if r.SyncID != "" {
		return r.SyncID
	}
	return r.UserID
}

// Manager sequences the seven workflow phases: trigger validation and
// idempotency, queue dispatch, phase execution, audit, metrics, lifecycle
// events and rollback.
type Manager struct {
	audit         interfaces.AuditStore
	jobStore      interfaces.JobStateStorage
	orchQueue     interfaces.Queue
	progressQueue interfaces.Queue
	metrics       interfaces.MetricsSink
	events        interfaces.EventService
	collab        *collaborators.Services
	config        *common.WorkflowConfig
	validate      *validator.Validate
	logger        arbor.ILogger
}

// NewManager creates a new orchestration manager
func NewManager(
	audit interfaces.AuditStore,
	jobStore interfaces.JobStateStorage,
	orchQueue interfaces.Queue,
	progressQueue interfaces.Queue,
	metrics interfaces.MetricsSink,
	events interfaces.EventService,
	collab *collaborators.Services,
	config *common.WorkflowConfig,
	logger arbor.ILogger,
) *Manager {
	return &Manager{
		audit:         audit,
		jobStore:      jobStore,
		orchQueue:     orchQueue,
		progressQueue: progressQueue,
		metrics:       metrics,
		events:        events,
		collab:        collab,
		config:        config,
		validate:      validator.New(),
		logger:        logger,
	}
}

// TriggerPhase validates the request, runs the best-effort idempotency
// checks and enqueues the phase job. It returns immediately; execution
// happens on the queue consumer. Predecessor completion is deliberately not
// enforced here: external events may legitimately enter the pipeline
// mid-stream.
func (m *Manager) TriggerPhase(ctx context.Context, phase models.Phase, req *TriggerRequest) error {
	if !phase.Valid() {
		return models.NewValidationError("phase", "Invalid phase number: %d. Must be 1-7.", int(phase))
	}
	if err := m.validate.Struct(req); err != nil {
		return models.NewValidationError("user_id", "user_id is required")
	}

	workflowID := req.workflowID()

	// Idempotency, both checks best-effort: a check failure defaults to
	// "proceed". Duplicate work is recoverable, silently dropped work is not.
	if done, err := m.audit.HasCompleted(ctx, workflowID, phase); err != nil {
		m.logger.Warn().
			Err(err).
			Str("workflow_id", workflowID).
			Int("phase", int(phase)).
			Msg("Idempotency check against audit store failed, proceeding")
	} else if done {
		m.logger.Info().
			Str("workflow_id", workflowID).
			Int("phase", int(phase)).
			Msg("Phase already completed for workflow, skipping trigger")
		return nil
	}

	if inFlight, err := m.jobStore.HasInFlight(ctx, models.QueueOrchestration, req.UserID, req.SyncID, phase); err != nil {
		m.logger.Warn().
			Err(err).
			Str("user_id", req.UserID).
			Int("phase", int(phase)).
			Msg("Idempotency check against job queue failed, proceeding")
	} else if inFlight {
		m.logger.Info().
			Str("user_id", req.UserID).
			Str("sync_id", req.SyncID).
			Int("phase", int(phase)).
			Msg("Duplicate in-flight trigger for phase, skipping enqueue")
		return nil
	}

	return m.enqueuePhase(ctx, phase, req, 0)
}

func (m *Manager) enqueuePhase(ctx context.Context, phase models.Phase, req *TriggerRequest, delay time.Duration) error {
	jobID := uuid.New().String()

	payload, err := json.Marshal(models.PhaseJobPayload{
		UserID:      req.UserID,
		SellerID:    req.SellerID,
		SyncID:      req.SyncID,
		Step:        phase,
		TotalSteps:  int(models.MaxPhase),
		CurrentStep: phase.Name(),
		Metadata:    req.Metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal phase job payload: %w", err)
	}

	if err := m.jobStore.SaveJobState(ctx, &models.QueueJobState{
		ID:     jobID,
		Queue:  models.QueueOrchestration,
		UserID: req.UserID,
		SyncID: req.SyncID,
		Step:   phase,
		Status: models.JobStatusWaiting,
	}); err != nil {
		m.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Msg("Failed to save job state before enqueue")
	}

	msg := models.QueueMessage{
		JobID:   jobID,
		Queue:   models.QueueOrchestration,
		Payload: payload,
	}

	if delay > 0 {
		err = m.orchQueue.EnqueueWithDelay(ctx, msg, delay)
	} else {
		err = m.orchQueue.Enqueue(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue phase %d job: %w", int(phase), err)
	}

	m.logger.Info().
		Str("job_id", jobID).
		Str("user_id", req.UserID).
		Str("sync_id", req.SyncID).
		Int("phase", int(phase)).
		Msg("Phase orchestration job enqueued")
	return nil
}

// HandlePhaseMessage is the orchestration-queue consumer entry point. A
// returned error marks the job failed; it never escalates past the worker.
func (m *Manager) HandlePhaseMessage(ctx context.Context, msg *models.QueueMessage) error {
	var payload models.PhaseJobPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid phase job payload: %w", err)
	}
	return m.executePhase(ctx, &payload)
}

func (m *Manager) executePhase(ctx context.Context, payload *models.PhaseJobPayload) error {
	phase := payload.Step
	workflowID := workflowIDFor(payload)

	m.appendAudit(ctx, &models.PhaseLogEntry{
		WorkflowID: workflowID,
		UserID:     payload.UserID,
		Phase:      phase,
		Status:     models.PhaseStatusStarted,
		Timestamp:  time.Now(),
		Metadata:   payload.Metadata,
	})
	m.emitMetric(ctx, models.MetricPhaseStarted, payload, nil)
	m.publishLifecycle(payload, "started", nil, "")

	start := time.Now()
	result, err := m.runPhaseBody(ctx, payload)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		execErr := &models.PhaseExecutionError{Phase: phase, Err: err}

		m.appendAudit(ctx, &models.PhaseLogEntry{
			WorkflowID:   workflowID,
			UserID:       payload.UserID,
			Phase:        phase,
			Status:       models.PhaseStatusFailed,
			Timestamp:    time.Now(),
			DurationMs:   &durationMs,
			ErrorMessage: err.Error(),
			ErrorStack:   string(debug.Stack()),
		})
		m.emitMetric(ctx, models.MetricPhaseFailed, payload, &durationMs)
		m.publishLifecycle(payload, "failed", nil, err.Error())

		if phase > models.MinPhase {
			m.handlePhaseRollback(ctx, payload, execErr)
		} else {
			m.logger.Error().
				Err(err).
				Str("workflow_id", workflowID).
				Msg("Phase 1 failed with no predecessor to roll back to, workflow run is terminal")
		}

		return execErr
	}

	m.appendAudit(ctx, &models.PhaseLogEntry{
		WorkflowID: workflowID,
		UserID:     payload.UserID,
		Phase:      phase,
		Status:     models.PhaseStatusCompleted,
		Timestamp:  time.Now(),
		DurationMs: &durationMs,
		Metadata:   payload.Metadata,
	})
	m.emitMetric(ctx, models.MetricPhaseCompleted, payload, &durationMs)
	m.publishLifecycle(payload, "completed", result, "")

	if next, ok := phase.Next(); ok {
		req := &TriggerRequest{
			UserID:   payload.UserID,
			SellerID: payload.SellerID,
			SyncID:   payload.SyncID,
			Metadata: payload.Metadata,
		}
		// Phase 1 establishes the sync ID for the rest of the pipeline
		if syncID, ok := result["sync_id"].(string); ok && syncID != "" {
			req.SyncID = syncID
		}
		if err := m.TriggerPhase(ctx, next, req); err != nil {
			m.logger.Error().
				Err(err).
				Int("phase", int(next)).
				Str("user_id", payload.UserID).
				Msg("Failed to chain-trigger next phase")
		}
	}

	return nil
}

// runPhaseBody dispatches to the per-phase business logic. Each body
// delegates the real work to an external collaborator; a collaborator
// timeout surfaces here as a failure.
func (m *Manager) runPhaseBody(ctx context.Context, payload *models.PhaseJobPayload) (map[string]interface{}, error) {
	switch payload.Step {
	case models.PhaseOnboarding:
		syncID, err := m.collab.Sync.StartSync(ctx, payload.UserID, payload.SellerID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"sync_id": syncID, "onboarded": true}, nil

	case models.PhaseDiscovery:
		if err := m.collab.Detection.StartDetection(ctx, payload.UserID, payload.SyncID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"detection_started": true}, nil

	case models.PhaseEvidence:
		if err := m.collab.Evidence.StartMatching(ctx, payload.UserID, payload.SyncID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"matching_started": true}, nil

	case models.PhaseRefund:
		return m.routeClaimMatches(ctx, payload)

	case models.PhaseRecovery:
		if err := m.startPayoutMonitoring(ctx, payload); err != nil {
			return nil, err
		}
		return map[string]interface{}{"monitoring": true}, nil

	case models.PhaseLearning:
		// Rejection feedback is captured in the audit metadata; the learning
		// pipeline consumes it out of band.
		m.logger.Info().
			Str("user_id", payload.UserID).
			Str("sync_id", payload.SyncID).
			Str("feedback", fmt.Sprintf("%v", payload.Metadata)).
			Msg("Recorded claim rejection for model feedback")
		return map[string]interface{}{"feedback_recorded": true}, nil

	case models.PhaseTransparency:
		payoutAmount, _ := payload.Metadata["payout_amount"].(float64)
		if err := m.collab.Payment.RecordFeeShare(ctx, payload.UserID, payoutAmount); err != nil {
			return nil, err
		}
		return map[string]interface{}{"payout_amount": payoutAmount, "fee_share_recorded": true}, nil

	default:
		return nil, fmt.Errorf("unknown phase %d", int(payload.Step))
	}
}

// routeClaimMatches implements phase 4: matches above the confidence
// threshold are submitted, the rest go to the clarification flow.
func (m *Manager) routeClaimMatches(ctx context.Context, payload *models.PhaseJobPayload) (map[string]interface{}, error) {
	matches, err := m.collab.Claims.ListMatches(ctx, payload.UserID, payload.SyncID)
	if err != nil {
		return nil, err
	}

	var submitted, clarifications int
	for _, match := range matches {
		if match.Confidence >= submitConfidenceThreshold {
			if err := m.collab.Claims.SubmitClaim(ctx, payload.UserID, match.ClaimID); err != nil {
				return nil, err
			}
			submitted++
		} else {
			if err := m.collab.Claims.RequestClarification(ctx, payload.UserID, match.ClaimID); err != nil {
				return nil, err
			}
			clarifications++
		}
	}

	return map[string]interface{}{
		"matches":        len(matches),
		"submitted":      submitted,
		"clarifications": clarifications,
	}, nil
}

// startPayoutMonitoring enqueues a monitor job on the sync-progress queue.
func (m *Manager) startPayoutMonitoring(ctx context.Context, payload *models.PhaseJobPayload) error {
	jobID := uuid.New().String()

	data, err := json.Marshal(models.PhaseJobPayload{
		UserID:      payload.UserID,
		SellerID:    payload.SellerID,
		SyncID:      payload.SyncID,
		Step:        payload.Step,
		CurrentStep: "payout-monitoring",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal monitor payload: %w", err)
	}

	if err := m.jobStore.SaveJobState(ctx, &models.QueueJobState{
		ID:     jobID,
		Queue:  models.QueueSyncProgress,
		UserID: payload.UserID,
		SyncID: payload.SyncID,
		Step:   payload.Step,
		Status: models.JobStatusWaiting,
	}); err != nil {
		m.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Msg("Failed to save monitor job state before enqueue")
	}

	return m.progressQueue.Enqueue(ctx, models.QueueMessage{
		JobID:   jobID,
		Queue:   models.QueueSyncProgress,
		Payload: data,
	})
}

// HandleProgressMessage is the sync-progress queue consumer. It pushes a
// monitoring heads-up to the user; payout confirmation itself arrives later
// through the phase 7 webhook.
func (m *Manager) HandleProgressMessage(ctx context.Context, msg *models.QueueMessage) error {
	var payload models.PhaseJobPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid progress payload: %w", err)
	}

	m.publishEvent(interfaces.EventPhaseLifecycle, models.PhaseLifecycleEvent{
		UserID: payload.UserID,
		Event:  "workflow.payout.monitoring",
		Notification: models.PhaseNotification{
			Phase:     int(payload.Step),
			Event:     "monitoring",
			Timestamp: time.Now(),
			SyncID:    payload.SyncID,
			Message:   "Watching for payout confirmation",
		},
	})
	return nil
}

// handlePhaseRollback records the regression to the previous phase. Best
// effort all the way down: every failure inside here is logged and dropped.
func (m *Manager) handlePhaseRollback(ctx context.Context, payload *models.PhaseJobPayload, cause error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Int("phase", int(payload.Step)).
				Msg("Panic during rollback handling")
		}
	}()

	failed := payload.Step
	target := failed - 1

	m.logger.Warn().
		Str("user_id", payload.UserID).
		Str("sync_id", payload.SyncID).
		Int("failed_phase", int(failed)).
		Int("rollback_to", int(target)).
		Msg("Rolling back workflow phase")

	m.appendAudit(ctx, &models.PhaseLogEntry{
		WorkflowID:        workflowIDFor(payload),
		UserID:            payload.UserID,
		Phase:             failed,
		Status:            models.PhaseStatusRolledBack,
		Timestamp:         time.Now(),
		PreviousPhase:     &failed,
		ErrorMessage:      cause.Error(),
		RollbackTriggered: true,
		RollbackToPhase:   &target,
	})
	m.emitMetric(ctx, models.MetricPhaseRolledBack, payload, nil)

	m.publishEvent(interfaces.EventPhaseLifecycle, models.PhaseLifecycleEvent{
		UserID: payload.UserID,
		Event:  failed.EventName("rolled_back"),
		Notification: models.PhaseNotification{
			Phase:     int(failed),
			Event:     "rolled_back",
			Timestamp: time.Now(),
			SyncID:    payload.SyncID,
			Message:   fmt.Sprintf("%s failed, rolled back to phase %d", failed.Name(), int(target)),
			Error:     cause.Error(),
		},
	})

	if m.config.AutoRetryOnRollback {
		req := &TriggerRequest{
			UserID:   payload.UserID,
			SellerID: payload.SellerID,
			SyncID:   payload.SyncID,
			Metadata: payload.Metadata,
		}
		delay := common.ParseDuration(m.config.RetryDelay, 30*time.Second)
		if err := m.enqueuePhase(ctx, target, req, delay); err != nil {
			m.logger.Error().
				Err(err).
				Int("phase", int(target)).
				Msg("Failed to re-queue rollback target phase")
		}
	}
}

// CancelJob removes a waiting job from the queue and records the
// cancellation on its state.
func (m *Manager) CancelJob(ctx context.Context, jobID string) error {
	state, err := m.jobStore.GetJobState(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if state == nil {
		return fmt.Errorf("job %s not found", jobID)
	}

	q := m.orchQueue
	if state.Queue == models.QueueSyncProgress {
		q = m.progressQueue
	}
	if err := q.Cancel(ctx, jobID); err != nil {
		return fmt.Errorf("failed to remove job %s from queue: %w", jobID, err)
	}

	if err := m.jobStore.UpdateJobStatus(ctx, jobID, models.JobStatusCancelled, "cancelled by operator"); err != nil {
		return fmt.Errorf("failed to mark job %s cancelled: %w", jobID, err)
	}

	m.logger.Info().
		Str("job_id", jobID).
		Msg("Job cancelled")
	return nil
}

// QueueStats returns job counts by state for both queues.
func (m *Manager) QueueStats(ctx context.Context) (map[string]*models.QueueStats, error) {
	stats := make(map[string]*models.QueueStats, 2)
	for _, queue := range []string{models.QueueOrchestration, models.QueueSyncProgress} {
		s, err := m.jobStore.QueueStats(ctx, queue)
		if err != nil {
			return nil, fmt.Errorf("failed to read stats for queue %s: %w", queue, err)
		}
		stats[queue] = s
	}
	return stats, nil
}

// appendAudit writes one audit entry, logging and continuing on failure.
// Audit is observability, not a correctness gate.
func (m *Manager) appendAudit(ctx context.Context, entry *models.PhaseLogEntry) {
	if err := m.audit.Append(ctx, entry); err != nil {
		m.logger.Warn().
			Err(err).
			Str("workflow_id", entry.WorkflowID).
			Int("phase", int(entry.Phase)).
			Str("status", string(entry.Status)).
			Msg("Failed to write audit entry, continuing")
	}
}

func (m *Manager) emitMetric(ctx context.Context, name string, payload *models.PhaseJobPayload, durationMs *int64) {
	labels := map[string]string{
		"phase":       fmt.Sprintf("%d", int(payload.Step)),
		"user_id":     payload.UserID,
		"workflow_id": workflowIDFor(payload),
	}
	value := 1.0
	if durationMs != nil {
		value = float64(*durationMs)
	}
	m.metrics.Emit(ctx, name, labels, value)
}

func (m *Manager) publishLifecycle(payload *models.PhaseJobPayload, event string, result map[string]interface{}, errMsg string) {
	m.publishEvent(interfaces.EventPhaseLifecycle, models.PhaseLifecycleEvent{
		UserID: payload.UserID,
		Event:  payload.Step.EventName(event),
		Notification: models.PhaseNotification{
			Phase:     int(payload.Step),
			Event:     event,
			Timestamp: time.Now(),
			SyncID:    payload.SyncID,
			Result:    result,
			Error:     errMsg,
		},
	})
}

func (m *Manager) publishEvent(eventType interfaces.EventType, payload interface{}) {
	if err := m.events.Publish(context.Background(), interfaces.Event{
		Type:    eventType,
		Payload: payload,
	}); err != nil {
		m.logger.Warn().
			Err(err).
			Str("event_type", string(eventType)).
			Msg("Failed to publish event")
	}
}

func workflowIDFor(payload *models.PhaseJobPayload) string {
	if payload.SyncID != "" {
		return payload.SyncID
	}
	return payload.UserID
}
