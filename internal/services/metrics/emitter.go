package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
)

// Emitter persists metric rows and echoes them to the structured log for
// scrape ingestion. Emit never fails the caller: a metrics outage degrades
// observability, not phase execution.
type Emitter struct {
	storage interfaces.MetricStorage
	logger  arbor.ILogger
}

// NewEmitter creates a new metric emitter
func NewEmitter(storage interfaces.MetricStorage, logger arbor.ILogger) interfaces.MetricsSink {
	return &Emitter{
		storage: storage,
		logger:  logger,
	}
}

// Emit records one metric event. Failures are logged and swallowed.
func (e *Emitter) Emit(ctx context.Context, name string, labels map[string]string, value float64) {
	event := &models.MetricEvent{
		ID:        uuid.New().String(),
		Name:      name,
		Labels:    labels,
		Value:     value,
		Timestamp: time.Now(),
	}

	if err := e.storage.SaveMetric(ctx, event); err != nil {
		e.logger.Warn().
			Err(err).
			Str("metric", name).
			Msg("Failed to persist metric")
	}

	logEvent := e.logger.Info().Str("metric", name).Float64("value", value)
	for k, v := range labels {
		logEvent = logEvent.Str(k, v)
	}
	logEvent.Msg("Metric emitted")
}
