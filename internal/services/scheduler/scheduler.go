package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/common"
	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
)

const (
	defaultSLASchedule = "0 * * * *"
	queueStatsInterval = 5 * time.Second
	staleScanInterval  = 1 * time.Minute
)

// Service runs the background maintenance loops: the cron-driven SLA
// violation scan, the stale job detector and the periodic queue stats
// broadcast consumed by the WebSocket layer.
type Service struct {
	audit    interfaces.AuditStore
	jobStore interfaces.JobStateStorage
	events   interfaces.EventService
	metrics  interfaces.MetricsSink
	cron     *cron.Cron
	logger   arbor.ILogger

	slaSchedule  string
	staleTimeout time.Duration

	mu          sync.Mutex
	lastSLAScan time.Time
	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewService creates the maintenance scheduler.
func NewService(
	audit interfaces.AuditStore,
	jobStore interfaces.JobStateStorage,
	events interfaces.EventService,
	metrics interfaces.MetricsSink,
	config *common.Config,
	logger arbor.ILogger,
) *Service {
	schedule := config.Workflow.SLAScanSchedule
	if schedule == "" {
		schedule = defaultSLASchedule
	}

	return &Service{
		audit:        audit,
		jobStore:     jobStore,
		events:       events,
		metrics:      metrics,
		cron:         cron.New(),
		logger:       logger,
		slaSchedule:  schedule,
		staleTimeout: common.ParseDuration(config.Queue.StaleJobTimeout, 15*time.Minute),
	}
}

// Start registers the SLA scan with the cron scheduler and launches the
// stale job and queue stats tickers.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.slaSchedule, s.scanSLAViolations); err != nil {
		return fmt.Errorf("failed to register SLA scan job: %w", err)
	}
	s.cron.Start()

	s.stopCh = make(chan struct{})
	s.wg.Add(2)
	go s.staleJobLoop()
	go s.queueStatsLoop()

	s.running = true
	s.logger.Info().
		Str("sla_schedule", s.slaSchedule).
		Str("stale_timeout", s.staleTimeout.String()).
		Msg("Maintenance scheduler started")

	return nil
}

// Stop halts the cron scheduler and the ticker loops.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cron.Stop()
	close(s.stopCh)
	s.wg.Wait()
	s.running = false

	s.logger.Info().Msg("Maintenance scheduler stopped")
	return nil
}

func (s *Service) staleJobLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(staleScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.detectStaleJobs()
		}
	}
}

func (s *Service) queueStatsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(queueStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.publishQueueStats()
		}
	}
}

// scanSLAViolations reports phase executions that exceeded their threshold
// since the previous scan. The first scan looks back 24 hours.
func (s *Service) scanSLAViolations() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in SLA scan")
		}
	}()

	s.mu.Lock()
	since := s.lastSLAScan
	s.lastSLAScan = time.Now()
	s.mu.Unlock()

	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	ctx := context.Background()
	violations, err := s.audit.SLAViolations(ctx, since)
	if err != nil {
		s.logger.Error().Err(err).Msg("SLA violation scan failed")
		return
	}

	if len(violations) == 0 {
		s.logger.Debug().Msg("SLA scan found no violations")
		return
	}

	for _, v := range violations {
		s.logger.Warn().
			Str("workflow_id", v.WorkflowID).
			Str("user_id", v.UserID).
			Int("phase", int(v.Phase)).
			Int64("duration_ms", v.DurationMs).
			Int64("threshold_ms", v.ThresholdMs).
			Msg("Phase exceeded SLA threshold")

		s.metrics.Emit(ctx, models.MetricSLAViolation, map[string]string{
			"phase":       strconv.Itoa(int(v.Phase)),
			"user_id":     v.UserID,
			"workflow_id": v.WorkflowID,
		}, float64(v.DurationMs))
	}

	s.logger.Warn().
		Int("count", len(violations)).
		Msg("SLA violation scan completed")
}

// detectStaleJobs fails active jobs whose worker stopped heartbeating. The
// queue message itself redelivers via the visibility timeout; this only
// reconciles the job record.
func (s *Service) detectStaleJobs() {
	ctx := context.Background()

	stale, err := s.jobStore.GetStaleActive(ctx, s.staleTimeout)
	if err != nil {
		s.logger.Error().Err(err).Msg("Stale job detection failed")
		return
	}
	if len(stale) == 0 {
		return
	}

	s.logger.Warn().
		Int("count", len(stale)).
		Msg("Detected stale jobs without heartbeat")

	for _, job := range stale {
		reason := fmt.Sprintf("no heartbeat for %s", s.staleTimeout)
		if err := s.jobStore.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, reason); err != nil {
			s.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to update stale job status")
			continue
		}
		s.logger.Info().
			Str("job_id", job.ID).
			Str("queue", job.Queue).
			Msg("Marked stale job as failed")
	}
}

// publishQueueStats snapshots both queues and publishes the result on the
// event bus. The WebSocket layer throttles delivery to clients.
func (s *Service) publishQueueStats() {
	ctx := context.Background()

	stats := make(map[string]*models.QueueStats, 2)
	for _, queue := range []string{models.QueueOrchestration, models.QueueSyncProgress} {
		snapshot, err := s.jobStore.QueueStats(ctx, queue)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("queue", queue).
				Msg("Failed to snapshot queue stats")
			return
		}
		stats[queue] = snapshot
	}

	if err := s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventQueueStats,
		Payload: stats,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish queue stats event")
	}
}
