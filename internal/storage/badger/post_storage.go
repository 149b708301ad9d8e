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

// PostStorage implements the PostStorage interface for Badger
type PostStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPostStorage creates a new PostStorage instance
func NewPostStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PostStorage {
	return &PostStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PostStorage) SavePost(ctx context.Context, post *models.SourcePost) error {
	if post.ID == "" {
		return fmt.Errorf("post ID is required")
	}
	if post.CollectedAt.IsZero() {
		post.CollectedAt = time.Now()
	}

	if err := s.db.Store().Upsert(post.ID, *post); err != nil {
		return fmt.Errorf("failed to save post: %w", err)
	}
	return nil
}

func (s *PostStorage) GetPost(ctx context.Context, id string) (*models.SourcePost, error) {
	var post models.SourcePost
	if err := s.db.Store().Get(id, &post); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("post not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}

func (s *PostStorage) HasPostByExternalID(ctx context.Context, workspaceID, externalID string) (bool, error) {
	count, err := s.db.Store().Count(&models.SourcePost{},
		badgerhold.Where("WorkspaceID").Eq(workspaceID).And("ExternalID").Eq(externalID))
	if err != nil {
		return false, fmt.Errorf("failed to count posts: %w", err)
	}
	return count > 0, nil
}

func (s *PostStorage) ListPosts(ctx context.Context, ids []string) ([]*models.SourcePost, error) {
	result := make([]*models.SourcePost, 0, len(ids))
	for _, id := range ids {
		post, err := s.GetPost(ctx, id)
		if err != nil {
			s.logger.Debug().Str("post_id", id).Msg("Referenced post missing, skipping")
			continue
		}
		result = append(result, post)
	}
	return result, nil
}

func (s *PostStorage) RecentQualifiedPosts(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*models.SourcePost, error) {
	var posts []models.SourcePost
	if err := s.db.Store().Find(&posts, badgerhold.Where("WorkspaceID").Eq(workspaceID)); err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	result := make([]*models.SourcePost, 0, len(posts))
	for i := range posts {
		if posts[i].CollectedAt.Before(since) {
			continue
		}
		result = append(result, &posts[i])
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PostedAt.After(result[j].PostedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *PostStorage) DeletePostsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var posts []models.SourcePost
	if err := s.db.Store().Find(&posts, nil); err != nil {
		return 0, fmt.Errorf("failed to list posts for pruning: %w", err)
	}

	deleted := 0
	for i := range posts {
		if posts[i].CollectedAt.After(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(posts[i].ID, &models.SourcePost{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("post_id", posts[i].ID).Msg("Failed to delete expired post")
			continue
		}
		deleted++
	}
	return deleted, nil
}
