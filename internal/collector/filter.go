package collector

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
)

// Filter qualifies collected posts against the workspace's freshness and
// engagement thresholds and counts the outcomes. Duplicates are identified
// first and never feed the rejection counters.
type Filter struct {
	posts  interfaces.PostStorage
	config common.CollectorConfig
	logger arbor.ILogger
}

// NewFilter creates a qualification filter. The config supplies fallback
// thresholds for workspaces that don't set their own.
func NewFilter(posts interfaces.PostStorage, config common.CollectorConfig, logger arbor.ILogger) *Filter {
	return &Filter{
		posts:  posts,
		config: config,
		logger: logger,
	}
}

// Qualify partitions raw posts into qualified ones and outcome counters.
func (f *Filter) Qualify(ctx context.Context, job *models.ScrapeJob, raw []*models.SourcePost) ([]*models.SourcePost, models.OutcomeCounters, error) {
	window := job.Settings.FreshnessWindow
	if window <= 0 {
		window = f.config.FreshnessWindow
	}
	minEngagement := job.Settings.MinEngagement
	if minEngagement <= 0 {
		minEngagement = f.config.MinEngagement
	}

	now := time.Now()
	counters := models.OutcomeCounters{Raw: len(raw)}
	qualified := make([]*models.SourcePost, 0, len(raw))

	for _, post := range raw {
		known, err := f.posts.HasPostByExternalID(ctx, job.WorkspaceID, post.ExternalID)
		if err != nil {
			return nil, counters, err
		}
		if known {
			counters.Duplicates++
			continue
		}

		if post.FollowerCount == 0 {
			counters.UnknownFollowerCount++
		}

		// An unparseable post time cannot prove freshness
		if post.PostedAt.IsZero() || now.Sub(post.PostedAt) > window {
			counters.RejectedFreshness++
			continue
		}

		if post.EngagementScore() < minEngagement {
			counters.RejectedEngagement++
			continue
		}

		post.WorkspaceID = job.WorkspaceID
		post.SourceID = job.SourceID
		counters.Qualified++
		qualified = append(qualified, post)
	}

	f.logger.Debug().
		Str("workspace_id", job.WorkspaceID).
		Str("source_id", job.SourceID).
		Int("raw", counters.Raw).
		Int("qualified", counters.Qualified).
		Int("duplicates", counters.Duplicates).
		Msg("Collection batch qualified")

	return qualified, counters, nil
}
