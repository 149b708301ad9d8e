package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
	"github.com/ternarybob/propago/internal/publisher"
)

const defaultSystemPrompt = `You are an editor who turns trending social media posts into a short, engaging derivative article. Write a markdown article with a single '#' title line followed by the body. Stay factual to the source posts and do not invent details.`

// Lookback applied when a workspace has never synthesized before.
const defaultLookback = 48 * time.Hour

// Maximum posts fed into one article's prompt.
const maxPostsPerCluster = 5

// Service synthesizes derivative articles from recently collected posts.
// Generation is best-effort: a failed article is logged and skipped, and only
// input errors (storage, configuration) propagate to the caller.
type Service struct {
	storage  interfaces.StorageManager
	provider textGenerator
	config   common.SynthesisConfig
	timeout  time.Duration
	logger   arbor.ILogger

	now func() time.Time
}

// NewService creates the synthesis collaborator. With no API key configured
// the service stays up but reports zero articles for every run.
func NewService(storage interfaces.StorageManager, config common.SynthesisConfig, logger arbor.ILogger) (*Service, error) {
	provider, err := newProvider(config, logger)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		logger.Warn().Str("provider", config.Provider).Msg("No synthesis API key configured, synthesis disabled")
	}

	timeout := 5 * time.Minute
	if config.Timeout != "" {
		timeout, err = time.ParseDuration(config.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid synthesis timeout %q: %w", config.Timeout, err)
		}
	}

	return &Service{
		storage:  storage,
		provider: provider,
		config:   config,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Synthesize clusters the workspace's recent qualified posts and generates up
// to MaxArticles derivative articles, scheduled into the next publish slot and
// then staggered apart.
func (s *Service) Synthesize(ctx context.Context, workspaceID string, settings models.WorkspaceSettings) (interfaces.SynthesisResult, error) {
	result := interfaces.SynthesisResult{}
	if s.provider == nil {
		return result, nil
	}

	ws, err := s.storage.WorkspaceStorage().GetWorkspace(ctx, workspaceID)
	if err != nil {
		return result, err
	}

	now := s.now()
	since := now.Add(-defaultLookback)
	if ws.LastSynthesizedAt != nil && ws.LastSynthesizedAt.After(since) {
		since = *ws.LastSynthesizedAt
	}

	posts, err := s.storage.PostStorage().RecentQualifiedPosts(ctx, workspaceID, since, 50)
	if err != nil {
		return result, fmt.Errorf("failed to load recent posts: %w", err)
	}
	if len(posts) == 0 {
		s.logger.Debug().Str("workspace_id", workspaceID).Msg("No recent posts to synthesize from")
		s.touchSynthesized(ctx, workspaceID, now)
		return result, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	slot := publisher.NextPublishSlot(ws.PublishTimes, now)
	clusters := clusterPosts(posts, s.config.MaxArticles)

	for _, cluster := range clusters {
		article, err := s.generateArticle(genCtx, ws, settings, cluster, slot)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("workspace_id", workspaceID).
				Int("cluster_size", len(cluster)).
				Msg("Article generation failed, skipping cluster")
			continue
		}
		result.ArticlesGenerated++
		s.logger.Info().
			Str("workspace_id", workspaceID).
			Str("article_id", article.ID).
			Str("title", article.Title).
			Msg("Article synthesized")
	}

	if result.ArticlesGenerated > 1 {
		if err := publisher.StaggerSameSlot(ctx, s.storage.ArticleStorage(), ws, slot, s.logger); err != nil {
			s.logger.Warn().Err(err).Str("workspace_id", workspaceID).Msg("Failed to stagger article schedule")
		}
	}

	s.touchSynthesized(ctx, workspaceID, now)
	return result, nil
}

func (s *Service) generateArticle(ctx context.Context, ws *models.Workspace, settings models.WorkspaceSettings, cluster []*models.SourcePost, slot time.Time) (*models.Article, error) {
	system := settings.SynthesisPrompt
	if system == "" {
		system = defaultSystemPrompt
	}

	text, err := s.provider.Generate(ctx, system, buildPrompt(cluster, settings.Language))
	if err != nil {
		return nil, err
	}

	title, body := splitArticle(text)
	if body == "" {
		return nil, fmt.Errorf("generated article had no body")
	}

	status := models.ArticleStatusPendingReview
	if settings.AutoApprove {
		status = models.ArticleStatusApproved
	}

	scheduled := slot
	article := &models.Article{
		ID:                 common.NewArticleID(),
		WorkspaceID:        ws.ID,
		Status:             status,
		Title:              title,
		Body:               body,
		Language:           settings.Language,
		ScheduledPublishAt: &scheduled,
	}
	for _, post := range cluster {
		article.SourcePostIDs = append(article.SourcePostIDs, post.ID)
	}

	if err := s.storage.ArticleStorage().SaveArticle(ctx, article); err != nil {
		return nil, fmt.Errorf("failed to persist article: %w", err)
	}

	// Back-reference the consumed posts; a failed update is tolerable
	for _, post := range cluster {
		post.UsedByArticles = append(post.UsedByArticles, article.ID)
		if err := s.storage.PostStorage().SavePost(ctx, post); err != nil {
			s.logger.Debug().Err(err).Str("post_id", post.ID).Msg("Failed to back-reference post")
		}
	}
	return article, nil
}

func (s *Service) touchSynthesized(ctx context.Context, workspaceID string, at time.Time) {
	if err := s.storage.WorkspaceStorage().TouchPhaseTimestamp(ctx, workspaceID, models.PhaseSynthesize, at); err != nil {
		s.logger.Warn().Err(err).Str("workspace_id", workspaceID).Msg("Failed to update synthesis timestamp")
	}
}

// clusterPosts groups posts by source, orders clusters by total engagement
// and returns at most maxClusters of them, each capped at maxPostsPerCluster.
func clusterPosts(posts []*models.SourcePost, maxClusters int) [][]*models.SourcePost {
	if maxClusters <= 0 {
		maxClusters = 1
	}

	bySource := make(map[string][]*models.SourcePost)
	var order []string
	for _, post := range posts {
		if _, seen := bySource[post.SourceID]; !seen {
			order = append(order, post.SourceID)
		}
		bySource[post.SourceID] = append(bySource[post.SourceID], post)
	}

	clusters := make([][]*models.SourcePost, 0, len(order))
	for _, sourceID := range order {
		cluster := bySource[sourceID]
		sort.Slice(cluster, func(i, j int) bool {
			return cluster[i].EngagementScore() > cluster[j].EngagementScore()
		})
		if len(cluster) > maxPostsPerCluster {
			cluster = cluster[:maxPostsPerCluster]
		}
		clusters = append(clusters, cluster)
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusterEngagement(clusters[i]) > clusterEngagement(clusters[j])
	})
	if len(clusters) > maxClusters {
		clusters = clusters[:maxClusters]
	}
	return clusters
}

func clusterEngagement(cluster []*models.SourcePost) int {
	total := 0
	for _, post := range cluster {
		total += post.EngagementScore()
	}
	return total
}

func buildPrompt(cluster []*models.SourcePost, language string) string {
	var b strings.Builder
	b.WriteString("Source posts:\n\n")
	for i, post := range cluster {
		fmt.Fprintf(&b, "--- Post %d by %s (likes %d, comments %d, shares %d) ---\n%s\n\n",
			i+1, post.Author, post.LikeCount, post.CommentCount, post.ShareCount, post.Text)
	}
	if language != "" {
		fmt.Fprintf(&b, "Write the article in %s.\n", language)
	}
	return b.String()
}

// splitArticle separates the generated markdown into title and body. The
// first '#' heading wins; otherwise the first non-empty line is the title.
func splitArticle(text string) (title, body string) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		title = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		body = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		return title, body
	}
	return "", ""
}
