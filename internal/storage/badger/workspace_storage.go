package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WorkspaceStorage implements the WorkspaceStorage interface for Badger
type WorkspaceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWorkspaceStorage creates a new WorkspaceStorage instance
func NewWorkspaceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WorkspaceStorage {
	return &WorkspaceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WorkspaceStorage) SaveWorkspace(ctx context.Context, ws *models.Workspace) error {
	if ws.ID == "" {
		return fmt.Errorf("workspace ID is required")
	}
	if err := ws.Validate(); err != nil {
		return err
	}

	ws.UpdatedAt = time.Now()
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = ws.UpdatedAt
	}

	// Dereference to keep a consistent badgerhold type prefix with Find
	if err := s.db.Store().Upsert(ws.ID, *ws); err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	return nil
}

func (s *WorkspaceStorage) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := s.db.Store().Get(id, &ws); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("workspace not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}

func (s *WorkspaceStorage) ListActiveWorkspaces(ctx context.Context) ([]*models.Workspace, error) {
	var workspaces []models.Workspace
	if err := s.db.Store().Find(&workspaces, badgerhold.Where("IsActive").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to list active workspaces: %w", err)
	}

	result := make([]*models.Workspace, 0, len(workspaces))
	for i := range workspaces {
		result = append(result, &workspaces[i])
	}
	return result, nil
}

func (s *WorkspaceStorage) ListWorkspaces(ctx context.Context) ([]*models.Workspace, error) {
	var workspaces []models.Workspace
	if err := s.db.Store().Find(&workspaces, nil); err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	result := make([]*models.Workspace, 0, len(workspaces))
	for i := range workspaces {
		result = append(result, &workspaces[i])
	}
	return result, nil
}

// TouchPhaseTimestamp updates a single phase timestamp. This is deliberately
// a read-modify-write of one record; a failed touch after a completed phase
// is a logged, accepted failure mode rather than a transaction.
func (s *WorkspaceStorage) TouchPhaseTimestamp(ctx context.Context, id string, phase models.Phase, at time.Time) error {
	ws, err := s.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}

	switch phase {
	case models.PhaseCollect:
		ws.LastCollectedAt = &at
	case models.PhaseSynthesize:
		ws.LastSynthesizedAt = &at
	case models.PhasePublish:
		ws.LastPublishedAt = &at
	default:
		return fmt.Errorf("unknown phase: %s", phase)
	}

	ws.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(ws.ID, *ws); err != nil {
		return fmt.Errorf("failed to update workspace timestamp: %w", err)
	}

	s.logger.Debug().
		Str("workspace_id", id).
		Str("phase", string(phase)).
		Msg("Workspace phase timestamp updated")
	return nil
}
