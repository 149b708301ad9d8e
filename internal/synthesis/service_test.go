package synthesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/models"
	"github.com/ternarybob/propago/internal/publisher"
	badgerstore "github.com/ternarybob/propago/internal/storage/badger"
)

type fakeGenerator struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (f *fakeGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestService(t *testing.T, gen textGenerator) (*Service, *badgerstore.Manager) {
	t.Helper()
	logger := arbor.NewLogger()
	mgr, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	svc, err := NewService(mgr, common.SynthesisConfig{MaxArticles: 3, Timeout: "1m"}, logger)
	require.NoError(t, err)
	svc.provider = gen
	return svc, mgr
}

func saveTestWorkspace(t *testing.T, mgr *badgerstore.Manager) *models.Workspace {
	t.Helper()
	ws := &models.Workspace{
		ID:                "ws_syn",
		Name:              "Synthesis Test",
		PublishTimes:      []string{"12:00", "18:00", "22:00"},
		ReviewWindowHours: 2,
		DailyPublishQuota: 3,
		IsActive:          true,
	}
	require.NoError(t, mgr.WorkspaceStorage().SaveWorkspace(context.Background(), ws))
	return ws
}

func saveQualifiedPost(t *testing.T, mgr *badgerstore.Manager, id, sourceID string, likes int) {
	t.Helper()
	require.NoError(t, mgr.PostStorage().SavePost(context.Background(), &models.SourcePost{
		ID:          id,
		WorkspaceID: "ws_syn",
		SourceID:    sourceID,
		ExternalID:  "ext_" + id,
		Author:      "someuser",
		Text:        "post body",
		LikeCount:   likes,
		PostedAt:    time.Now().Add(-time.Hour),
		CollectedAt: time.Now(),
	}))
}

func TestService_GeneratesAndStaggersArticles(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{response: "# Big Story\n\nSomething happened."}
	svc, mgr := newTestService(t, gen)
	ws := saveTestWorkspace(t, mgr)

	saveQualifiedPost(t, mgr, "post_1", "src_a", 500)
	saveQualifiedPost(t, mgr, "post_2", "src_b", 100)

	result, err := svc.Synthesize(ctx, "ws_syn", models.WorkspaceSettings{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ArticlesGenerated, "one article per source cluster")
	assert.Equal(t, 2, gen.calls)

	pending, err := mgr.ArticleStorage().ListArticlesByStatus(ctx, "ws_syn", models.ArticleStatusPendingReview)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	slot := publisher.NextPublishSlot(ws.PublishTimes, time.Now())
	first, second := pending[0], pending[1]
	assert.Equal(t, "Big Story", first.Title)
	assert.Equal(t, "Something happened.", first.Body)
	require.NotNil(t, first.ScheduledPublishAt)
	require.NotNil(t, second.ScheduledPublishAt)
	assert.True(t, first.ScheduledPublishAt.Equal(slot), "oldest keeps the next slot")
	assert.True(t, second.ScheduledPublishAt.After(slot), "second article is staggered later")

	// Consumed posts carry the back-reference
	post, err := mgr.PostStorage().GetPost(ctx, "post_1")
	require.NoError(t, err)
	assert.NotEmpty(t, post.UsedByArticles)

	updated, err := mgr.WorkspaceStorage().GetWorkspace(ctx, "ws_syn")
	require.NoError(t, err)
	assert.NotNil(t, updated.LastSynthesizedAt)
}

func TestService_AutoApproveSkipsReview(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{response: "# Title\n\nBody."}
	svc, mgr := newTestService(t, gen)
	saveTestWorkspace(t, mgr)
	saveQualifiedPost(t, mgr, "post_1", "src_a", 500)

	_, err := svc.Synthesize(ctx, "ws_syn", models.WorkspaceSettings{AutoApprove: true})
	require.NoError(t, err)

	approved, err := mgr.ArticleStorage().ListArticlesByStatus(ctx, "ws_syn", models.ArticleStatusApproved)
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

func TestService_GenerationFailureIsBestEffort(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model overloaded")}
	svc, mgr := newTestService(t, gen)
	saveTestWorkspace(t, mgr)
	saveQualifiedPost(t, mgr, "post_1", "src_a", 500)

	result, err := svc.Synthesize(context.Background(), "ws_syn", models.WorkspaceSettings{})
	require.NoError(t, err, "generation failures are swallowed")
	assert.Zero(t, result.ArticlesGenerated)
}

func TestService_DisabledWithoutKey(t *testing.T) {
	svc, mgr := newTestService(t, nil)
	svc.provider = nil
	saveTestWorkspace(t, mgr)
	saveQualifiedPost(t, mgr, "post_1", "src_a", 500)

	result, err := svc.Synthesize(context.Background(), "ws_syn", models.WorkspaceSettings{})
	require.NoError(t, err)
	assert.Zero(t, result.ArticlesGenerated)
}

func TestSplitArticle(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantTitle string
		wantBody  string
	}{
		{"heading", "# Title\n\nBody text.", "Title", "Body text."},
		{"no heading", "Plain title\nBody follows.", "Plain title", "Body follows."},
		{"leading blank lines", "\n\n# Title\nBody.", "Title", "Body."},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := splitArticle(tt.text)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}
