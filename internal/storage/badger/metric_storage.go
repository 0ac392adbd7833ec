package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/interfaces"
	"github.com/reclaimhq/reclaim/internal/models"
)

// MetricStorage implements write-once metric persistence for Badger
type MetricStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMetricStorage creates a new MetricStorage instance
func NewMetricStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MetricStorage {
	return &MetricStorage{
		db:     db,
		logger: logger,
	}
}

// SaveMetric persists one metric row. Rows are never updated.
func (s *MetricStorage) SaveMetric(ctx context.Context, metric *models.MetricEvent) error {
	if metric == nil {
		return fmt.Errorf("metric is required")
	}
	if metric.ID == "" {
		metric.ID = uuid.New().String()
	}
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}

	if err := s.db.Store().Insert(metric.ID, metric); err != nil {
		return fmt.Errorf("failed to save metric %s: %w", metric.Name, err)
	}
	return nil
}
