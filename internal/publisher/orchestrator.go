package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
	"github.com/ternarybob/propago/internal/pipeline"
)

// Skip reasons returned on gated-out publish runs. These are stable strings
// surfaced through run metadata and the status endpoint.
const (
	SkipReasonInProgress = "Publish already in progress"
	SkipReasonCooldown   = "Cooldown active"
	SkipReasonNoEligible = "No eligible articles"
)

func skipReasonDailyLimit(used, quota int) string {
	return fmt.Sprintf("Daily limit reached (%d/%d)", used, quota)
}

// Orchestrator runs the per-workspace publish sequence: token refresh, daily
// quota, cooldown, eligible selection, then per-article fan-out across the
// configured platforms. A keyed mutex guarantees one run per workspace at a
// time.
type Orchestrator struct {
	storage   interfaces.StorageManager
	clients   map[models.PlatformKind]interfaces.PlatformClient
	refresher interfaces.TokenRefresher
	locks     *pipeline.KeyedMutex
	config    common.PublisherConfig
	logger    arbor.ILogger

	now func() time.Time
}

// NewOrchestrator creates a publish orchestrator.
func NewOrchestrator(storage interfaces.StorageManager, clients []interfaces.PlatformClient, refresher interfaces.TokenRefresher, locks *pipeline.KeyedMutex, config common.PublisherConfig, logger arbor.ILogger) *Orchestrator {
	byKind := make(map[models.PlatformKind]interfaces.PlatformClient, len(clients))
	for _, c := range clients {
		byKind[c.Kind()] = c
	}
	return &Orchestrator{
		storage:   storage,
		clients:   byKind,
		refresher: refresher,
		locks:     locks,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// PublishWorkspace runs one gated publish pass for the workspace.
func (o *Orchestrator) PublishWorkspace(ctx context.Context, workspaceID string) (*interfaces.PublishOutcome, error) {
	if !o.locks.TryLock(workspaceID) {
		o.logger.Debug().Str("workspace_id", workspaceID).Msg("Publish run already in progress")
		return &interfaces.PublishOutcome{Skipped: true, Reason: SkipReasonInProgress}, nil
	}
	defer o.locks.Unlock(workspaceID)

	ws, err := o.storage.WorkspaceStorage().GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	now := o.now()

	o.refreshTokens(ctx, ws, now)

	// Daily quota counts from civil midnight in the schedule timezone
	dayStart := common.AtWallClock("00:00", now)
	used, err := o.storage.ArticleStorage().CountPublishedSince(ctx, ws.ID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("failed to count published articles: %w", err)
	}
	if used >= ws.DailyPublishQuota {
		o.logger.Info().
			Str("workspace_id", ws.ID).
			Int("used", used).
			Int("quota", ws.DailyPublishQuota).
			Msg("Daily publish quota reached")
		return &interfaces.PublishOutcome{Skipped: true, Reason: skipReasonDailyLimit(used, ws.DailyPublishQuota)}, nil
	}

	limit := ws.DailyPublishQuota - used
	if o.config.MaxPerRun > 0 && o.config.MaxPerRun < limit {
		limit = o.config.MaxPerRun
	}

	// Cooldown is measured from the newest platform publish timestamp on
	// record, not the workspace's own timestamp
	latest, err := o.storage.ArticleStorage().LatestPublished(ctx, ws.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up latest published article: %w", err)
	}
	if latest != nil {
		if at := latest.PublishedAt(); at != nil && now.Sub(*at) < o.config.Cooldown {
			o.logger.Debug().
				Str("workspace_id", ws.ID).
				Str("last_published_at", at.Format(time.RFC3339)).
				Msg("Publish cooldown active")
			return &interfaces.PublishOutcome{Skipped: true, Reason: SkipReasonCooldown}, nil
		}
	}

	eligible, err := o.storage.ArticleStorage().EligibleArticles(ctx, ws.ID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible articles: %w", err)
	}
	if len(eligible) == 0 {
		return &interfaces.PublishOutcome{Skipped: true, Reason: SkipReasonNoEligible}, nil
	}

	outcome := &interfaces.PublishOutcome{}
	prevPublished := false
	for _, article := range eligible {
		// The pacing delay separates successful publishes only
		if prevPublished {
			if err := o.wait(ctx, o.config.InterItemDelay); err != nil {
				return outcome, err
			}
		}
		prevPublished = o.publishArticle(ctx, ws, article)
		if prevPublished {
			outcome.Published++
		}
	}
	return outcome, nil
}

// refreshTokens refreshes platform tokens that expire within the refresh
// lead. A failed refresh keeps the current token; the platform call will
// surface any real expiry.
func (o *Orchestrator) refreshTokens(ctx context.Context, ws *models.Workspace, now time.Time) {
	updated := false
	for _, kind := range ws.ConfiguredPlatforms() {
		creds := ws.Platforms[kind]
		if creds.TokenExpiresAt.IsZero() || creds.TokenExpiresAt.Sub(now) > o.config.TokenRefreshLead {
			continue
		}

		refreshed, err := o.refresher.Refresh(ctx, creds)
		if err != nil {
			o.logger.Warn().Err(err).
				Str("workspace_id", ws.ID).
				Str("platform", string(kind)).
				Msg("Token refresh failed, keeping current token")
			continue
		}

		ws.Platforms[kind] = refreshed
		updated = true
		o.logger.Info().
			Str("workspace_id", ws.ID).
			Str("platform", string(kind)).
			Str("expires_at", refreshed.TokenExpiresAt.Format(time.RFC3339)).
			Msg("Platform token refreshed")
	}

	if updated {
		if err := o.storage.WorkspaceStorage().SaveWorkspace(ctx, ws); err != nil {
			o.logger.Warn().Err(err).Str("workspace_id", ws.ID).Msg("Failed to persist refreshed tokens")
		}
	}
}

// publishArticle fans one article out to every configured platform. Platform
// failures are isolated: one success is enough to mark the article PUBLISHED,
// while a full wipeout marks it ERROR and bumps the retry counter.
func (o *Orchestrator) publishArticle(ctx context.Context, ws *models.Workspace, article *models.Article) bool {
	posts, err := o.storage.PostStorage().ListPosts(ctx, article.SourcePostIDs)
	if err != nil {
		o.logger.Warn().Err(err).Str("article_id", article.ID).Msg("Failed to load source posts for media selection")
	}

	content := interfaces.PublishContent{Caption: renderCaption(article)}
	if url, isVideo, ok := SelectMedia(article, posts); ok {
		content.MediaURL = url
		content.IsVideo = isVideo
	}

	results := make(map[models.PlatformKind]models.PlatformResult)
	var lastErr error
	for _, kind := range ws.ConfiguredPlatforms() {
		client, ok := o.clients[kind]
		if !ok {
			continue
		}
		result, err := o.publishTo(ctx, client, ws.Platforms[kind], content)
		if err != nil {
			lastErr = err
			o.logger.Warn().Err(err).
				Str("article_id", article.ID).
				Str("platform", string(kind)).
				Msg("Platform publish failed")
			continue
		}
		results[kind] = *result
	}

	now := o.now()
	if len(results) > 0 {
		article.Status = models.ArticleStatusPublished
		article.PlatformResults = results
		article.LastError = ""
		if lastErr != nil {
			// Partial failure: note it without failing the article
			article.LastError = lastErr.Error()
		}
	} else {
		article.Status = models.ArticleStatusError
		article.RetryCount++
		if lastErr != nil {
			article.LastError = lastErr.Error()
		}
	}

	if err := o.storage.ArticleStorage().SaveArticle(ctx, article); err != nil {
		o.logger.Error().Err(err).Str("article_id", article.ID).Msg("Failed to persist publish outcome")
		return false
	}

	if len(results) == 0 {
		return false
	}

	if err := o.storage.WorkspaceStorage().TouchPhaseTimestamp(ctx, ws.ID, models.PhasePublish, now); err != nil {
		o.logger.Warn().Err(err).Str("workspace_id", ws.ID).Msg("Failed to update publish timestamp")
	}
	ws.LastPublishedAt = &now

	o.logger.Info().
		Str("workspace_id", ws.ID).
		Str("article_id", article.ID).
		Int("platforms", len(results)).
		Msg("Article published")
	return true
}

// publishTo runs one platform's container flow: create, wait, publish,
// permalink. A missing permalink is tolerated.
func (o *Orchestrator) publishTo(ctx context.Context, client interfaces.PlatformClient, creds *models.PlatformCredentials, content interfaces.PublishContent) (*models.PlatformResult, error) {
	containerID, err := client.CreateContainer(ctx, creds, content)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := client.WaitForReady(ctx, creds, containerID); err != nil {
		return nil, fmt.Errorf("container processing: %w", err)
	}
	publishedID, err := client.Publish(ctx, creds, containerID)
	if err != nil {
		return nil, fmt.Errorf("publish container: %w", err)
	}

	result := &models.PlatformResult{
		PublishedID: publishedID,
		PublishedAt: o.now(),
	}
	if url, err := client.FetchPermalink(ctx, creds, publishedID); err != nil {
		o.logger.Debug().Err(err).Str("published_id", publishedID).Msg("Permalink lookup failed")
	} else {
		result.URL = url
	}
	return result, nil
}

// wait blocks for the duration, aborting with the context.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// renderCaption flattens the article into the platform caption text.
func renderCaption(article *models.Article) string {
	title := strings.TrimSpace(article.Title)
	body := strings.TrimSpace(article.Body)
	if title == "" {
		return body
	}
	if body == "" {
		return title
	}
	return title + "\n\n" + body
}
