package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/common"
	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
	"github.com/reclaimhq/reclaim/internal/services/collaborators"
	"github.com/reclaimhq/reclaim/internal/services/events"
	"github.com/reclaimhq/reclaim/internal/services/metrics"
	"github.com/reclaimhq/reclaim/internal/services/orchestrator"
	badgerstore "github.com/reclaimhq/reclaim/internal/storage/badger"
)

type recordingQueue struct {
	name string
	mu   sync.Mutex
	msgs []models.QueueMessage
}

func (q *recordingQueue) Name() string { return q.name }

func (q *recordingQueue) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *recordingQueue) EnqueueWithDelay(ctx context.Context, msg models.QueueMessage, delay time.Duration) error {
	return q.Enqueue(ctx, msg)
}

func (q *recordingQueue) Receive(ctx context.Context) (*models.QueueMessage, func() error, error) {
	return nil, nil, models.ErrNoMessage
}

func (q *recordingQueue) Cancel(ctx context.Context, jobID string) error { return nil }
func (q *recordingQueue) Close() error                                   { return nil }

type noopCollaborators struct{}

func (noopCollaborators) StartSync(ctx context.Context, userID, sellerID string) (string, error) {
	return "sync-1", nil
}
func (noopCollaborators) StartDetection(ctx context.Context, userID, syncID string) error { return nil }
func (noopCollaborators) StartMatching(ctx context.Context, userID, syncID string) error  { return nil }
func (noopCollaborators) ListMatches(ctx context.Context, userID, syncID string) ([]interfaces.ClaimMatch, error) {
	return nil, nil
}
func (noopCollaborators) SubmitClaim(ctx context.Context, userID, claimID string) error { return nil }
func (noopCollaborators) RequestClarification(ctx context.Context, userID, claimID string) error {
	return nil
}
func (noopCollaborators) RecordFeeShare(ctx context.Context, userID string, payoutAmount float64) error {
	return nil
}

func newTestHandler(t *testing.T) (*WorkflowHandler, interfaces.AuditStore) {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	audit := badgerstore.NewAuditStorage(db, logger)
	jobStore := badgerstore.NewJobStateStorage(db, logger)
	metricStore := badgerstore.NewMetricStorage(db, logger)

	collab := noopCollaborators{}
	manager := orchestrator.NewManager(
		audit,
		jobStore,
		&recordingQueue{name: models.QueueOrchestration},
		&recordingQueue{name: models.QueueSyncProgress},
		metrics.NewEmitter(metricStore, logger),
		events.NewService(logger),
		&collaborators.Services{
			Sync:      collab,
			Detection: collab,
			Evidence:  collab,
			Claims:    collab,
			Payment:   collab,
		},
		&common.WorkflowConfig{},
		logger,
	)

	return NewWorkflowHandler(manager, audit, logger), audit
}

func triggerRequest(t *testing.T, h *WorkflowHandler, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.TriggerPhaseHandler(rec, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestTriggerPhaseEndpointSuccess(t *testing.T) {
	h, _ := newTestHandler(t)

	rec, resp := triggerRequest(t, h, "/workflow/phase/1", `{"user_id":"u1","sync_id":"s1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(1), resp["phase"])
	assert.Equal(t, "Phase 1 orchestration triggered", resp["message"])
}

func TestTriggerPhaseEndpointMissingUserID(t *testing.T) {
	h, _ := newTestHandler(t)

	rec, resp := triggerRequest(t, h, "/workflow/phase/2", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "user_id is required", resp["error"])
}

func TestTriggerPhaseEndpointInvalidPhase(t *testing.T) {
	h, _ := newTestHandler(t)

	rec, resp := triggerRequest(t, h, "/workflow/phase/abc", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid phase number: abc. Must be 1-7.", resp["error"])

	rec, resp = triggerRequest(t, h, "/workflow/phase/9", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid phase number: 9. Must be 1-7.", resp["error"])

	rec, resp = triggerRequest(t, h, "/workflow/phase/0", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid phase number: 0. Must be 1-7.", resp["error"])
}

func TestTriggerPhaseEndpointMalformedBody(t *testing.T) {
	h, _ := newTestHandler(t)

	rec, resp := triggerRequest(t, h, "/workflow/phase/1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", resp["error"])
}

func TestTriggerPhaseEndpointRejectsGet(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/workflow/phase/1", nil)
	rec := httptest.NewRecorder()
	h.TriggerPhaseHandler(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/workflow/health", nil)
	rec := httptest.NewRecorder()
	h.HealthHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "workflow-routes", resp["service"])
}

func TestStatusEndpoint(t *testing.T) {
	h, audit := newTestHandler(t)
	ctx := context.Background()

	durationMs := int64(1200)
	require.NoError(t, audit.Append(ctx, &models.PhaseLogEntry{
		WorkflowID: "wf-1",
		UserID:     "u1",
		Phase:      models.PhaseOnboarding,
		Status:     models.PhaseStatusCompleted,
		Timestamp:  time.Now(),
		DurationMs: &durationMs,
	}))

	req := httptest.NewRequest(http.MethodGet, "/workflow/status?workflow_id=wf-1", nil)
	rec := httptest.NewRecorder()
	h.StatusHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool                `json:"success"`
		Phases  []models.PhaseState `json:"phases"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Phases, 1)
	assert.Equal(t, models.PhaseStatusCompleted, resp.Phases[0].Status)
}

func TestStatusEndpointRequiresWorkflowID(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/workflow/status", nil)
	rec := httptest.NewRecorder()
	h.StatusHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueStatsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	// Seed a job through the trigger path
	triggerRequest(t, h, "/workflow/phase/1", `{"user_id":"u1","sync_id":"s1"}`)

	req := httptest.NewRequest(http.MethodGet, "/workflow/queue-stats", nil)
	rec := httptest.NewRecorder()
	h.QueueStatsHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool                          `json:"success"`
		Queues  map[string]*models.QueueStats `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Queues, models.QueueOrchestration)
	assert.Equal(t, 1, resp.Queues[models.QueueOrchestration].Waiting)
}
