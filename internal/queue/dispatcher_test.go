package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/models"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	logger := arbor.NewLogger()
	m, err := NewManager(newTestDB(t), "test_scrape", time.Minute, 2, time.Second, 10, logger)
	require.NoError(t, err)
	return NewDispatcher(m, logger)
}

func TestScrapeDedupKey(t *testing.T) {
	assert.Equal(t, "scrape:ws_abc:src_1", models.ScrapeDedupKey("ws_abc", "src_1"))

	job := &models.ScrapeJob{WorkspaceID: "ws_abc", SourceID: "src_1"}
	assert.Equal(t, "scrape:ws_abc:src_1", job.DedupKey())
}

func TestDispatcher_EnqueueReceiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	since := time.Now().Add(-48 * time.Hour)
	job := &models.ScrapeJob{
		WorkspaceID: "ws_abc",
		SourceID:    "src_1",
		Target:      "some.account",
		Kind:        models.SourceKindAccount,
		Since:       &since,
	}
	require.NoError(t, d.EnqueueScrape(ctx, job))
	assert.NotEmpty(t, job.ID)
	assert.False(t, job.EnqueuedAt.IsZero())

	got, msg, err := d.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "some.account", got.Target)
	assert.Equal(t, models.SourceKindAccount, got.Kind)
	require.NotNil(t, got.Since)
	assert.True(t, got.Since.Equal(since))

	require.NoError(t, d.Complete(ctx, msg))
}

func TestDispatcher_DuplicateSourceRejected(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	require.NoError(t, d.EnqueueScrape(ctx, &models.ScrapeJob{
		WorkspaceID: "ws_abc",
		SourceID:    "src_1",
		Target:      "some.account",
		Kind:        models.SourceKindAccount,
	}))

	err := d.EnqueueScrape(ctx, &models.ScrapeJob{
		WorkspaceID: "ws_abc",
		SourceID:    "src_1",
		Target:      "some.account",
		Kind:        models.SourceKindAccount,
	})
	assert.ErrorIs(t, err, ErrDuplicateJob)

	waiting, _, _, err := d.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, waiting)
}

func TestDispatcher_RequiresWorkspace(t *testing.T) {
	d := newTestDispatcher(t)
	err := d.EnqueueScrape(context.Background(), &models.ScrapeJob{Target: "x"})
	assert.Error(t, err)
}
