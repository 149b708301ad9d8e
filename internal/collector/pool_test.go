package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/models"
	"github.com/ternarybob/propago/internal/pipeline"
	"github.com/ternarybob/propago/internal/queue"
	badgerstore "github.com/ternarybob/propago/internal/storage/badger"
)

type fakeScrapeSession struct {
	mu       sync.Mutex
	posts    []*models.SourcePost
	err      error
	block    bool
	closed   bool
	collects int
}

func (f *fakeScrapeSession) Collect(ctx context.Context, target string, kind models.SourceKind, since *time.Time) ([]*models.SourcePost, error) {
	f.mu.Lock()
	f.collects++
	block, err, posts := f.block, f.err, f.posts
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func (f *fakeScrapeSession) EnrichPosts(ctx context.Context, posts []*models.SourcePost) {}

func (f *fakeScrapeSession) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeScrapeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type poolHarness struct {
	pool    *Pool
	storage *badgerstore.Manager

	mu       sync.Mutex
	sessions []*fakeScrapeSession
	template func() *fakeScrapeSession
}

func (h *poolHarness) session(i int) *fakeScrapeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.sessions) {
		return nil
	}
	return h.sessions[i]
}

func (h *poolHarness) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func testPoolConfig() common.CollectorConfig {
	return common.CollectorConfig{
		Concurrency:     1,
		JobTimeout:      2 * time.Second,
		RecycleAfter:    2,
		RequestDelay:    time.Millisecond,
		FreshnessWindow: 48 * time.Hour,
		MinEngagement:   1,
	}
}

func newPoolHarness(t *testing.T, cfg common.CollectorConfig, template func() *fakeScrapeSession) *poolHarness {
	t.Helper()
	logger := arbor.NewLogger()

	mgr, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	qm, err := queue.NewManager(mgr.RawDB(), "test_scrape", time.Minute, 2, 10*time.Millisecond, 10, logger)
	require.NoError(t, err)
	dispatcher := queue.NewDispatcher(qm, logger)

	tracker := pipeline.NewTracker(mgr.RunStorage(), logger)
	filter := NewFilter(mgr.PostStorage(), cfg, logger)

	h := &poolHarness{
		storage:  mgr,
		template: template,
	}
	h.pool = NewPool(dispatcher, mgr, tracker, filter, cfg, 10*time.Millisecond, logger)
	h.pool.factory = func() (scrapeSession, error) {
		s := h.template()
		h.mu.Lock()
		h.sessions = append(h.sessions, s)
		h.mu.Unlock()
		return s, nil
	}
	return h
}

func freshPost(externalID string) *models.SourcePost {
	return &models.SourcePost{
		ID:            "post_" + externalID,
		ExternalID:    externalID,
		PostedAt:      time.Now().Add(-time.Hour),
		LikeCount:     100,
		FollowerCount: 500,
	}
}

func enqueueJob(t *testing.T, h *poolHarness, sourceID string) {
	t.Helper()
	require.NoError(t, h.pool.dispatcher.EnqueueScrape(context.Background(), &models.ScrapeJob{
		WorkspaceID: "ws_a",
		SourceID:    sourceID,
		Target:      "someuser",
		Kind:        models.SourceKindAccount,
	}))
}

func TestPool_ProcessesJobEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newPoolHarness(t, testPoolConfig(), func() *fakeScrapeSession {
		return &fakeScrapeSession{posts: []*models.SourcePost{freshPost("abc")}}
	})

	enqueueJob(t, h, "src_1")
	require.NoError(t, h.pool.Start(ctx))
	defer h.pool.Stop()

	require.Eventually(t, func() bool {
		known, err := h.storage.PostStorage().HasPostByExternalID(ctx, "ws_a", "abc")
		return err == nil && known
	}, 5*time.Second, 20*time.Millisecond, "qualified post must be persisted")

	require.Eventually(t, func() bool {
		runs, err := h.storage.RunStorage().ListRuns(ctx, "ws_a", 10)
		if err != nil || len(runs) == 0 {
			return false
		}
		run := runs[0]
		return run.Phase == models.PhaseCollect &&
			run.Status == models.RunStatusCompleted &&
			run.Metadata["qualified"] == 1
	}, 5*time.Second, 20*time.Millisecond, "completed run with counters must be recorded")
}

func TestPool_TearsDownSessionOnFailure(t *testing.T) {
	h := newPoolHarness(t, testPoolConfig(), func() *fakeScrapeSession {
		return &fakeScrapeSession{err: errors.New("render failed")}
	})

	enqueueJob(t, h, "src_1")
	require.NoError(t, h.pool.Start(context.Background()))
	defer h.pool.Stop()

	// Two delivery attempts, each on a fresh session because the failed one
	// is torn down.
	require.Eventually(t, func() bool {
		return h.sessionCount() == 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, h.session(0).isClosed(), "failed session must be closed")
}

func TestPool_PersistFailureTearsDownSession(t *testing.T) {
	ctx := context.Background()
	h := newPoolHarness(t, testPoolConfig(), func() *fakeScrapeSession {
		// Qualifies for persistence but carries no storable ID, so the save
		// step fails after a successful collect
		return &fakeScrapeSession{posts: []*models.SourcePost{{
			ExternalID:    "abc",
			PostedAt:      time.Now().Add(-time.Hour),
			LikeCount:     100,
			FollowerCount: 500,
		}}}
	})

	enqueueJob(t, h, "src_1")
	require.NoError(t, h.pool.Start(ctx))
	defer h.pool.Stop()

	require.Eventually(t, func() bool {
		runs, err := h.storage.RunStorage().ListRuns(ctx, "ws_a", 10)
		if err != nil {
			return false
		}
		for _, run := range runs {
			if run.Status == models.RunStatusFailed {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "persist failure must record a failed run")

	assert.True(t, h.session(0).isClosed(), "any job failure must tear down the slot's session")
}

func TestPool_RecyclesSessionAfterServedJobs(t *testing.T) {
	h := newPoolHarness(t, testPoolConfig(), func() *fakeScrapeSession {
		return &fakeScrapeSession{posts: []*models.SourcePost{freshPost("abc")}}
	})

	enqueueJob(t, h, "src_1")
	enqueueJob(t, h, "src_2")
	require.NoError(t, h.pool.Start(context.Background()))
	defer h.pool.Stop()

	// RecycleAfter is 2: the session that served both jobs is closed
	require.Eventually(t, func() bool {
		s := h.session(0)
		return s != nil && s.isClosed()
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, h.sessionCount(), "recycle must not eagerly create a replacement")

	// The next job gets a fresh session
	enqueueJob(t, h, "src_3")
	require.Eventually(t, func() bool {
		return h.sessionCount() == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPool_JobTimeoutFailsDelivery(t *testing.T) {
	ctx := context.Background()
	cfg := testPoolConfig()
	cfg.JobTimeout = 50 * time.Millisecond

	h := newPoolHarness(t, cfg, func() *fakeScrapeSession {
		return &fakeScrapeSession{block: true}
	})

	enqueueJob(t, h, "src_1")
	require.NoError(t, h.pool.Start(ctx))
	defer h.pool.Stop()

	require.Eventually(t, func() bool {
		runs, err := h.storage.RunStorage().ListRuns(ctx, "ws_a", 10)
		if err != nil {
			return false
		}
		for _, run := range runs {
			if run.Status == models.RunStatusFailed {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "timed-out job must record a failed run")

	assert.True(t, h.session(0).isClosed(), "timed-out session must be torn down")
}
