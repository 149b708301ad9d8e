package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/models"
)

// fakePostStorage answers duplicate checks from a fixed set of known
// external IDs.
type fakePostStorage struct {
	known map[string]bool
	saved []*models.SourcePost
}

func (f *fakePostStorage) SavePost(ctx context.Context, post *models.SourcePost) error {
	f.saved = append(f.saved, post)
	return nil
}

func (f *fakePostStorage) GetPost(ctx context.Context, id string) (*models.SourcePost, error) {
	return nil, nil
}

func (f *fakePostStorage) HasPostByExternalID(ctx context.Context, workspaceID, externalID string) (bool, error) {
	return f.known[externalID], nil
}

func (f *fakePostStorage) ListPosts(ctx context.Context, ids []string) ([]*models.SourcePost, error) {
	return nil, nil
}

func (f *fakePostStorage) RecentQualifiedPosts(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*models.SourcePost, error) {
	return nil, nil
}

func (f *fakePostStorage) DeletePostsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func testFilterConfig() common.CollectorConfig {
	return common.CollectorConfig{
		FreshnessWindow: 48 * time.Hour,
		MinEngagement:   50,
	}
}

func post(externalID string, age time.Duration, likes, followers int) *models.SourcePost {
	return &models.SourcePost{
		ID:            "post_" + externalID,
		ExternalID:    externalID,
		PostedAt:      time.Now().Add(-age),
		LikeCount:     likes,
		FollowerCount: followers,
	}
}

func TestFilter_QualifiesFreshEngagedPosts(t *testing.T) {
	storage := &fakePostStorage{known: map[string]bool{}}
	f := NewFilter(storage, testFilterConfig(), arbor.NewLogger())
	job := &models.ScrapeJob{WorkspaceID: "ws_a", SourceID: "src_1"}

	qualified, counters, err := f.Qualify(context.Background(), job, []*models.SourcePost{
		post("fresh", time.Hour, 100, 500),
		post("stale", 72*time.Hour, 100, 500),
		post("weak", time.Hour, 10, 500),
	})
	require.NoError(t, err)

	require.Len(t, qualified, 1)
	assert.Equal(t, "fresh", qualified[0].ExternalID)
	assert.Equal(t, "ws_a", qualified[0].WorkspaceID, "qualified posts are stamped with the job workspace")
	assert.Equal(t, "src_1", qualified[0].SourceID)

	assert.Equal(t, 3, counters.Raw)
	assert.Equal(t, 1, counters.Qualified)
	assert.Equal(t, 1, counters.RejectedFreshness)
	assert.Equal(t, 1, counters.RejectedEngagement)
	assert.Zero(t, counters.Duplicates)
}

func TestFilter_DuplicatesExcludedFromRejectionCounters(t *testing.T) {
	// A known post that would also fail freshness and engagement counts only
	// as a duplicate.
	storage := &fakePostStorage{known: map[string]bool{"known": true}}
	f := NewFilter(storage, testFilterConfig(), arbor.NewLogger())
	job := &models.ScrapeJob{WorkspaceID: "ws_a"}

	_, counters, err := f.Qualify(context.Background(), job, []*models.SourcePost{
		post("known", 100*time.Hour, 0, 0),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, counters.Duplicates)
	assert.Zero(t, counters.RejectedFreshness)
	assert.Zero(t, counters.RejectedEngagement)
	assert.Zero(t, counters.UnknownFollowerCount, "duplicates don't feed any other counter")
}

func TestFilter_UnknownFollowerCountTracked(t *testing.T) {
	storage := &fakePostStorage{known: map[string]bool{}}
	f := NewFilter(storage, testFilterConfig(), arbor.NewLogger())
	job := &models.ScrapeJob{WorkspaceID: "ws_a"}

	qualified, counters, err := f.Qualify(context.Background(), job, []*models.SourcePost{
		post("nofollowers", time.Hour, 100, 0),
	})
	require.NoError(t, err)

	assert.Len(t, qualified, 1, "unknown follower count does not reject")
	assert.Equal(t, 1, counters.UnknownFollowerCount)
}

func TestFilter_WorkspaceSettingsOverrideDefaults(t *testing.T) {
	storage := &fakePostStorage{known: map[string]bool{}}
	f := NewFilter(storage, testFilterConfig(), arbor.NewLogger())
	job := &models.ScrapeJob{
		WorkspaceID: "ws_a",
		Settings: models.WorkspaceSettings{
			FreshnessWindow: 2 * time.Hour,
			MinEngagement:   5,
		},
	}

	qualified, counters, err := f.Qualify(context.Background(), job, []*models.SourcePost{
		post("recent-weak", time.Hour, 8, 100),   // Passes the lowered engagement bar
		post("three-hours", 3*time.Hour, 80, 100), // Fails the tightened window
	})
	require.NoError(t, err)

	require.Len(t, qualified, 1)
	assert.Equal(t, "recent-weak", qualified[0].ExternalID)
	assert.Equal(t, 1, counters.RejectedFreshness)
}

func TestFilter_MissingPostTimeRejectedAsStale(t *testing.T) {
	storage := &fakePostStorage{known: map[string]bool{}}
	f := NewFilter(storage, testFilterConfig(), arbor.NewLogger())
	job := &models.ScrapeJob{WorkspaceID: "ws_a"}

	p := post("notime", 0, 100, 100)
	p.PostedAt = time.Time{}

	qualified, counters, err := f.Qualify(context.Background(), job, []*models.SourcePost{p})
	require.NoError(t, err)
	assert.Empty(t, qualified)
	assert.Equal(t, 1, counters.RejectedFreshness)
}
