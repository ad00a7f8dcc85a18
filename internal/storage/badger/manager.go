package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/queue"
)

// Manager owns the Badger connection and the storages built on it
type Manager struct {
	db     *BadgerDB
	runs   *RunStorage
	kv     interfaces.KeyValueStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		runs:   NewRunStorage(db, logger),
		kv:     NewKVStorage(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// RunStore returns the run record storage
func (m *Manager) RunStore() interfaces.RunStore {
	return m.runs
}

// KeyValueStorage returns the TTL key/value storage
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// NewQueue builds a job queue sharing this database
func (m *Manager) NewQueue(config queue.Config) (*queue.BadgerManager, error) {
	return queue.NewBadgerManager(m.db.Badger(), config.QueueName, config.VisibilityTimeout, config.MaxReceive)
}

// RunValueLogGC reclaims value log space
func (m *Manager) RunValueLogGC() error {
	return m.db.RunValueLogGC(0.5)
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
