package badger

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	workspace interfaces.WorkspaceStorage
	article   interfaces.ArticleStorage
	post      interfaces.PostStorage
	run       interfaces.RunStorage
	logger    arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		workspace: NewWorkspaceStorage(db, logger),
		article:   NewArticleStorage(db, logger),
		post:      NewPostStorage(db, logger),
		run:       NewRunStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// WorkspaceStorage returns the Workspace storage interface
func (m *Manager) WorkspaceStorage() interfaces.WorkspaceStorage {
	return m.workspace
}

// ArticleStorage returns the Article storage interface
func (m *Manager) ArticleStorage() interfaces.ArticleStorage {
	return m.article
}

// PostStorage returns the Post storage interface
func (m *Manager) PostStorage() interfaces.PostStorage {
	return m.post
}

// RunStorage returns the Run storage interface
func (m *Manager) RunStorage() interfaces.RunStorage {
	return m.run
}

// RawDB returns the underlying badger database for the queue manager, which
// shares the store but manages its own key space.
func (m *Manager) RawDB() *badger.DB {
	if m.db != nil {
		return m.db.Store().Badger()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
