package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/common"
	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
	"github.com/reclaimhq/reclaim/internal/services/orchestrator"
)

// WorkflowHandler exposes the phase trigger surface and the audit read paths
type WorkflowHandler struct {
	manager *orchestrator.Manager
	audit   interfaces.AuditStore
	logger  arbor.ILogger
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(manager *orchestrator.Manager, audit interfaces.AuditStore, logger arbor.ILogger) *WorkflowHandler {
	return &WorkflowHandler{
		manager: manager,
		audit:   audit,
		logger:  logger,
	}
}

// TriggerPhaseHandler accepts a phase trigger and returns immediately.
// POST /workflow/phase/{phaseNumber}
func (h *WorkflowHandler) TriggerPhaseHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	phaseStr := strings.TrimPrefix(r.URL.Path, "/workflow/phase/")
	phaseNum, err := strconv.Atoi(phaseStr)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid phase number: "+phaseStr+". Must be 1-7.")
		return
	}

	// An empty body falls through to user_id validation, malformed JSON does not
	var req orchestrator.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.manager.TriggerPhase(r.Context(), models.Phase(phaseNum), &req); err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			WriteError(w, http.StatusBadRequest, vErr.Message)
			return
		}
		h.logger.Error().
			Err(err).
			Int("phase", phaseNum).
			Msg("Failed to trigger phase")
		WriteError(w, http.StatusInternalServerError, "Failed to trigger phase orchestration")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"phase":   phaseNum,
		"message": "Phase " + strconv.Itoa(phaseNum) + " orchestration triggered",
	})
}

// HealthHandler reports liveness of the workflow routes.
// GET /workflow/health
func (h *WorkflowHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "workflow-routes",
	})
}

// StatusHandler returns the latest status per phase for one workflow.
// GET /workflow/status?workflow_id={id}. sync_id is accepted as an alias
// since the workflow key is the sync ID once a sync exists.
func (h *WorkflowHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		workflowID = r.URL.Query().Get("sync_id")
	}
	if workflowID == "" {
		WriteError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}

	states, err := h.audit.WorkflowStatus(r.Context(), workflowID)
	if err != nil {
		h.logger.Error().Err(err).Str("workflow_id", workflowID).Msg("Failed to load workflow status")
		WriteError(w, http.StatusInternalServerError, "Failed to load workflow status")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"workflow_id": workflowID,
		"phases":      states,
	})
}

// AnalyticsHandler returns per-phase aggregates over a time window.
// GET /workflow/analytics?window={duration, default 24h}
func (h *WorkflowHandler) AnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	window := common.ParseDuration(r.URL.Query().Get("window"), 24*time.Hour)
	since := time.Now().Add(-window)

	analytics, err := h.audit.Analytics(r.Context(), since)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute phase analytics")
		WriteError(w, http.StatusInternalServerError, "Failed to compute phase analytics")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"window":  window.String(),
		"phases":  analytics,
	})
}

// SLAViolationsHandler returns executions that exceeded their phase threshold.
// GET /workflow/sla-violations?window={duration, default 24h}
func (h *WorkflowHandler) SLAViolationsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	window := common.ParseDuration(r.URL.Query().Get("window"), 24*time.Hour)
	since := time.Now().Add(-window)

	violations, err := h.audit.SLAViolations(r.Context(), since)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load SLA violations")
		WriteError(w, http.StatusInternalServerError, "Failed to load SLA violations")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"window":     window.String(),
		"violations": violations,
	})
}

// QueueStatsHandler returns job counts by state for both queues.
// GET /workflow/queue-stats
func (h *WorkflowHandler) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.manager.QueueStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue stats")
		WriteError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"queues":  stats,
	})
}

// CancelJobHandler cancels a waiting job.
// POST /workflow/jobs/{id}/cancel
func (h *WorkflowHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/workflow/jobs/")
	jobID := strings.TrimSuffix(path, "/cancel")
	if jobID == "" || jobID == path {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	if err := h.manager.CancelJob(r.Context(), jobID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			WriteError(w, http.StatusNotFound, "Job not found: "+jobID)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"job_id":  jobID,
		"message": "Job cancelled",
	})
}
