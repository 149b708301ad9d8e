package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/models"
)

// fakeRunStorage records every save so tests can assert on the exact run
// transitions.
type fakeRunStorage struct {
	saves []models.PipelineRun
}

func (f *fakeRunStorage) SaveRun(ctx context.Context, run *models.PipelineRun) error {
	f.saves = append(f.saves, *run)
	return nil
}

func (f *fakeRunStorage) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunStorage) ListRuns(ctx context.Context, workspaceID string, limit int) ([]*models.PipelineRun, error) {
	return nil, nil
}

func (f *fakeRunStorage) ListFailedRunsSince(ctx context.Context, cutoff time.Time) ([]*models.PipelineRun, error) {
	return nil, nil
}

func (f *fakeRunStorage) PruneRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func TestTracker_RecordsCompletedRun(t *testing.T) {
	runs := &fakeRunStorage{}
	tracker := NewTracker(runs, arbor.NewLogger())

	err := tracker.Track(context.Background(), "ws_a", models.PhaseCollect, func(ctx context.Context) (map[string]interface{}, error) {
		return map[string]interface{}{"qualified": 4}, nil
	})
	require.NoError(t, err)

	require.Len(t, runs.saves, 2, "one save at start, one at completion")

	start := runs.saves[0]
	assert.Equal(t, models.RunStatusRunning, start.Status)
	assert.Equal(t, "ws_a", start.WorkspaceID)
	assert.Equal(t, models.PhaseCollect, start.Phase)
	assert.Nil(t, start.CompletedAt)

	done := runs.saves[1]
	assert.Equal(t, start.ID, done.ID, "completion updates the same record")
	assert.Equal(t, models.RunStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, 4, done.Metadata["qualified"])
}

func TestTracker_RecordsFailedRunAndRethrows(t *testing.T) {
	runs := &fakeRunStorage{}
	tracker := NewTracker(runs, arbor.NewLogger())

	phaseErr := errors.New("session crashed")
	err := tracker.Track(context.Background(), "ws_a", models.PhasePublish, func(ctx context.Context) (map[string]interface{}, error) {
		return nil, phaseErr
	})
	assert.ErrorIs(t, err, phaseErr, "phase error must reach the caller unchanged")

	require.Len(t, runs.saves, 2)
	done := runs.saves[1]
	assert.Equal(t, models.RunStatusFailed, done.Status)
	assert.Equal(t, "session crashed", done.Error)
}

func TestTracker_TruncatesLongErrors(t *testing.T) {
	runs := &fakeRunStorage{}
	tracker := NewTracker(runs, arbor.NewLogger())

	long := errors.New(strings.Repeat("x", 2000))
	_ = tracker.Track(context.Background(), "ws_a", models.PhaseSynthesize, func(ctx context.Context) (map[string]interface{}, error) {
		return nil, long
	})

	require.Len(t, runs.saves, 2)
	assert.Len(t, runs.saves[1].Error, 500)
}
