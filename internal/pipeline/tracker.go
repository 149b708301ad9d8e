package pipeline

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
)

// PhaseFunc is one tracked phase execution. The returned metadata is stored
// on the run record.
type PhaseFunc func(ctx context.Context) (map[string]interface{}, error)

// Tracker records one PipelineRun per phase execution: RUNNING at start, then
// exactly one transition to COMPLETED or FAILED with duration, metadata and a
// truncated error excerpt. The phase error is returned to the caller
// unchanged.
type Tracker struct {
	runs   interfaces.RunStorage
	logger arbor.ILogger
}

// NewTracker creates a run tracker over the given run storage.
func NewTracker(runs interfaces.RunStorage, logger arbor.ILogger) *Tracker {
	return &Tracker{
		runs:   runs,
		logger: logger,
	}
}

// Track executes fn wrapped in a run record. A failure to persist the record
// is logged and tolerated; it never blocks the phase itself.
func (t *Tracker) Track(ctx context.Context, workspaceID string, phase models.Phase, fn PhaseFunc) error {
	run := &models.PipelineRun{
		ID:          common.NewRunID(),
		WorkspaceID: workspaceID,
		Phase:       phase,
		Status:      models.RunStatusRunning,
		StartedAt:   time.Now(),
	}
	if err := t.runs.SaveRun(ctx, run); err != nil {
		t.logger.Warn().Err(err).
			Str("workspace_id", workspaceID).
			Str("phase", string(phase)).
			Msg("Failed to record run start")
	}

	metadata, phaseErr := fn(ctx)

	completedAt := time.Now()
	run.CompletedAt = &completedAt
	run.Metadata = metadata
	if phaseErr != nil {
		run.Status = models.RunStatusFailed
		run.SetError(phaseErr)
	} else {
		run.Status = models.RunStatusCompleted
	}

	if err := t.runs.SaveRun(ctx, run); err != nil {
		t.logger.Warn().Err(err).
			Str("run_id", run.ID).
			Msg("Failed to record run completion")
	}

	t.logger.Debug().
		Str("workspace_id", workspaceID).
		Str("phase", string(phase)).
		Str("status", string(run.Status)).
		Dur("duration", run.Duration()).
		Msg("Pipeline phase finished")

	return phaseErr
}
