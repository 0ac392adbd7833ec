package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/reclaimhq/reclaim/internal/common"
	"github.com/reclaimhq/reclaim/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	audit    interfaces.AuditStore
	metric   interfaces.MetricStorage
	jobState interfaces.JobStateStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		audit:    NewAuditStorage(db, logger),
		metric:   NewMetricStorage(db, logger),
		jobState: NewJobStateStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// AuditStore returns the phase audit storage interface
func (m *Manager) AuditStore() interfaces.AuditStore {
	return m.audit
}

// MetricStorage returns the metric storage interface
func (m *Manager) MetricStorage() interfaces.MetricStorage {
	return m.metric
}

// JobStateStorage returns the queue job state storage interface
func (m *Manager) JobStateStorage() interfaces.JobStateStorage {
	return m.jobState
}

// DB returns the underlying database connection
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
