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

// ArticleStorage implements the ArticleStorage interface for Badger
type ArticleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewArticleStorage creates a new ArticleStorage instance
func NewArticleStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ArticleStorage {
	return &ArticleStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ArticleStorage) SaveArticle(ctx context.Context, article *models.Article) error {
	if article.ID == "" {
		return fmt.Errorf("article ID is required")
	}

	article.UpdatedAt = time.Now()
	if article.CreatedAt.IsZero() {
		article.CreatedAt = article.UpdatedAt
	}

	if err := s.db.Store().Upsert(article.ID, *article); err != nil {
		return fmt.Errorf("failed to save article: %w", err)
	}
	return nil
}

func (s *ArticleStorage) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	var article models.Article
	if err := s.db.Store().Get(id, &article); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("article not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return &article, nil
}

func (s *ArticleStorage) ListArticlesByStatus(ctx context.Context, workspaceID string, status models.ArticleStatus) ([]*models.Article, error) {
	var articles []models.Article
	query := badgerhold.Where("WorkspaceID").Eq(workspaceID).And("Status").Eq(status)
	if err := s.db.Store().Find(&articles, query); err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}

	result := make([]*models.Article, 0, len(articles))
	for i := range articles {
		result = append(result, &articles[i])
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// EligibleArticles returns APPROVED articles with a null or elapsed scheduled
// publish time, ordered oldest-created-first.
func (s *ArticleStorage) EligibleArticles(ctx context.Context, workspaceID string, now time.Time, limit int) ([]*models.Article, error) {
	approved, err := s.ListArticlesByStatus(ctx, workspaceID, models.ArticleStatusApproved)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Article, 0, limit)
	for _, a := range approved {
		if !a.EligibleForPublish(now) {
			continue
		}
		result = append(result, a)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *ArticleStorage) CountPublishedSince(ctx context.Context, workspaceID string, cutoff time.Time) (int, error) {
	published, err := s.ListArticlesByStatus(ctx, workspaceID, models.ArticleStatusPublished)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, a := range published {
		if at := a.PublishedAt(); at != nil && !at.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *ArticleStorage) LatestPublished(ctx context.Context, workspaceID string) (*models.Article, error) {
	published, err := s.ListArticlesByStatus(ctx, workspaceID, models.ArticleStatusPublished)
	if err != nil {
		return nil, err
	}

	var latest *models.Article
	var latestAt time.Time
	for _, a := range published {
		if at := a.PublishedAt(); at != nil && at.After(latestAt) {
			latest = a
			latestAt = *at
		}
	}
	return latest, nil
}

func (s *ArticleStorage) ArticlesScheduledAt(ctx context.Context, workspaceID string, at time.Time) ([]*models.Article, error) {
	var articles []models.Article
	if err := s.db.Store().Find(&articles, badgerhold.Where("WorkspaceID").Eq(workspaceID)); err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}

	var result []*models.Article
	for i := range articles {
		a := &articles[i]
		if a.ScheduledPublishAt != nil && a.ScheduledPublishAt.Equal(at) && !a.Status.IsTerminal() {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *ArticleStorage) DeleteArticlesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var articles []models.Article
	if err := s.db.Store().Find(&articles, nil); err != nil {
		return 0, fmt.Errorf("failed to list articles for pruning: %w", err)
	}

	deleted := 0
	for i := range articles {
		a := &articles[i]
		// Only prune terminal articles; pending/approved content is never aged out
		if !a.Status.IsTerminal() || a.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(a.ID, &models.Article{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("article_id", a.ID).Msg("Failed to delete expired article")
			continue
		}
		deleted++
	}
	return deleted, nil
}
