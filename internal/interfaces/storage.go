package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/propago/internal/models"
)

// WorkspaceStorage persists workspace configuration and pipeline timestamps.
type WorkspaceStorage interface {
	SaveWorkspace(ctx context.Context, ws *models.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	ListActiveWorkspaces(ctx context.Context) ([]*models.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]*models.Workspace, error)
	// TouchPhaseTimestamp updates one of the last-collected/synthesized/published
	// timestamps as a single-row update.
	TouchPhaseTimestamp(ctx context.Context, id string, phase models.Phase, at time.Time) error
}

// ArticleStorage persists synthesized articles and answers the publish
// orchestrator's gating queries.
type ArticleStorage interface {
	SaveArticle(ctx context.Context, article *models.Article) error
	GetArticle(ctx context.Context, id string) (*models.Article, error)
	ListArticlesByStatus(ctx context.Context, workspaceID string, status models.ArticleStatus) ([]*models.Article, error)
	// EligibleArticles returns APPROVED articles whose scheduled publish time
	// is unset or at/before now, ordered oldest-created-first, up to limit.
	EligibleArticles(ctx context.Context, workspaceID string, now time.Time, limit int) ([]*models.Article, error)
	// CountPublishedSince counts articles published at or after the cutoff.
	CountPublishedSince(ctx context.Context, workspaceID string, cutoff time.Time) (int, error)
	// LatestPublished returns the most recently published article, or nil.
	LatestPublished(ctx context.Context, workspaceID string) (*models.Article, error)
	// ArticlesScheduledAt returns articles sharing the exact scheduled instant.
	ArticlesScheduledAt(ctx context.Context, workspaceID string, at time.Time) ([]*models.Article, error)
	DeleteArticlesBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// PostStorage persists scraped source posts.
type PostStorage interface {
	SavePost(ctx context.Context, post *models.SourcePost) error
	GetPost(ctx context.Context, id string) (*models.SourcePost, error)
	// HasPostByExternalID reports whether a platform-native post ID is already
	// known for the workspace. Drives duplicate counting during collection.
	HasPostByExternalID(ctx context.Context, workspaceID, externalID string) (bool, error)
	ListPosts(ctx context.Context, ids []string) ([]*models.SourcePost, error)
	// RecentQualifiedPosts returns posts collected since the cutoff, newest first.
	RecentQualifiedPosts(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*models.SourcePost, error)
	DeletePostsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RunStorage persists pipeline run audit records.
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.PipelineRun) error
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, workspaceID string, limit int) ([]*models.PipelineRun, error)
	// ListFailedRunsSince returns FAILED runs started at or after the cutoff.
	ListFailedRunsSince(ctx context.Context, cutoff time.Time) ([]*models.PipelineRun, error)
	PruneRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StorageManager bundles the record storages behind one lifecycle.
type StorageManager interface {
	WorkspaceStorage() WorkspaceStorage
	ArticleStorage() ArticleStorage
	PostStorage() PostStorage
	RunStorage() RunStorage
	Close() error
}
