package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunStorage implements the RunStorage interface for Badger
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RunStorage) SaveRun(ctx context.Context, run *models.PipelineRun) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if err := s.db.Store().Upsert(run.ID, *run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *RunStorage) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	if err := s.db.Store().Get(id, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

func (s *RunStorage) ListRuns(ctx context.Context, workspaceID string, limit int) ([]*models.PipelineRun, error) {
	var runs []models.PipelineRun
	if err := s.db.Store().Find(&runs, badgerhold.Where("WorkspaceID").Eq(workspaceID)); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*models.PipelineRun, 0, len(runs))
	for i := range runs {
		result = append(result, &runs[i])
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *RunStorage) ListFailedRunsSince(ctx context.Context, cutoff time.Time) ([]*models.PipelineRun, error) {
	var runs []models.PipelineRun
	if err := s.db.Store().Find(&runs, badgerhold.Where("Status").Eq(models.RunStatusFailed)); err != nil {
		return nil, fmt.Errorf("failed to list failed runs: %w", err)
	}

	var result []*models.PipelineRun
	for i := range runs {
		if runs[i].StartedAt.Before(cutoff) {
			continue
		}
		result = append(result, &runs[i])
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

func (s *RunStorage) PruneRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var runs []models.PipelineRun
	if err := s.db.Store().Find(&runs, nil); err != nil {
		return 0, fmt.Errorf("failed to list runs for pruning: %w", err)
	}

	deleted := 0
	for i := range runs {
		if runs[i].StartedAt.After(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(runs[i].ID, &models.PipelineRun{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("run_id", runs[i].ID).Msg("Failed to prune run record")
			continue
		}
		deleted++
	}
	return deleted, nil
}
