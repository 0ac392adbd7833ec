package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/common"
	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
)

// MessageHandler processes one queue message. A returned error marks the job
// failed; the message is deleted either way, redelivery is only for crashes.
type MessageHandler func(ctx context.Context, msg *models.QueueMessage) error

// WorkerPool manages a pool of workers that process queue messages
type WorkerPool struct {
	queue        interfaces.Queue
	jobStore     interfaces.JobStateStorage
	handler      MessageHandler
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
}

var _ interfaces.WorkerPool = (*WorkerPool)(nil)

// NewWorkerPool creates a new worker pool for one queue
func NewWorkerPool(q interfaces.Queue, jobStore interfaces.JobStateStorage, handler MessageHandler, config *common.QueueConfig, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &WorkerPool{
		queue:        q,
		jobStore:     jobStore,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: common.ParseDuration(config.PollInterval, time.Second),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the worker pool
func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Str("queue", wp.queue.Name()).
		Int("concurrency", wp.concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}

	return nil
}

// Stop gracefully stops the worker pool
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().
		Str("queue", wp.queue.Name()).
		Msg("Stopping worker pool")
	wp.cancel()
	return nil
}

// worker is the main worker loop that processes messages
func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to reduce database lock contention
	staggerDelay := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Str("queue", wp.queue.Name()).
		Msg("Worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processMessage(workerID); err != nil {
				if !errors.Is(err, models.ErrNoMessage) {
					wp.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Error processing message")
				}
			}
		}
	}
}

// processMessage receives and processes a single message
func (wp *WorkerPool) processMessage(workerID int) error {
	msg, deleteMsg, err := wp.queue.Receive(wp.ctx)
	if err != nil {
		return err
	}

	// A cancelled job may still have a message in flight if the cancel raced
	// the receive. Drop it without running the handler.
	if state, err := wp.jobStore.GetJobState(wp.ctx, msg.JobID); err == nil && state != nil {
		if state.Status == models.JobStatusCancelled {
			wp.logger.Debug().
				Str("job_id", msg.JobID).
				Msg("Skipping cancelled job")
			return deleteMsg()
		}
	}

	if err := wp.jobStore.UpdateJobStatus(wp.ctx, msg.JobID, models.JobStatusActive, ""); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("job_id", msg.JobID).
			Msg("Failed to mark job active")
	}

	// Heartbeat while the handler runs so the stale-job detector leaves
	// long-running jobs alone.
	heartbeatDone := make(chan struct{})
	go wp.heartbeat(msg.JobID, heartbeatDone)

	startTime := time.Now()
	handlerErr := wp.handler(wp.ctx, msg)
	duration := time.Since(startTime)
	close(heartbeatDone)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("job_id", msg.JobID).
			Str("queue", wp.queue.Name()).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")

		if err := wp.jobStore.UpdateJobStatus(wp.ctx, msg.JobID, models.JobStatusFailed, handlerErr.Error()); err != nil {
			wp.logger.Warn().
				Err(err).
				Str("job_id", msg.JobID).
				Msg("Failed to mark job failed")
		}

		// Delete regardless; rollback handling is the orchestrator's job,
		// not the queue's retry loop.
		if err := deleteMsg(); err != nil {
			wp.logger.Warn().
				Err(err).
				Str("job_id", msg.JobID).
				Msg("Failed to delete message after failure")
			return err
		}
		return handlerErr
	}

	wp.logger.Info().
		Str("job_id", msg.JobID).
		Str("queue", wp.queue.Name()).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed successfully")

	if err := wp.jobStore.UpdateJobStatus(wp.ctx, msg.JobID, models.JobStatusCompleted, ""); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("job_id", msg.JobID).
			Msg("Failed to mark job completed")
	}

	if err := deleteMsg(); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("job_id", msg.JobID).
			Msg("Failed to delete message after successful processing")
		return err
	}

	return nil
}

func (wp *WorkerPool) heartbeat(jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.jobStore.Touch(wp.ctx, jobID); err != nil {
				wp.logger.Debug().
					Err(err).
					Str("job_id", jobID).
					Msg("Failed to refresh job heartbeat")
			}
		}
	}
}
