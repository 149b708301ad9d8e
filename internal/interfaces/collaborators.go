package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/propago/internal/models"
)

// Collector fetches raw items from one social content source. An empty
// result is a valid "nothing new" outcome, not an error.
type Collector interface {
	Collect(ctx context.Context, target string, kind models.SourceKind, since *time.Time) ([]*models.SourcePost, error)
}

// SynthesisResult reports what a synthesis run produced.
type SynthesisResult struct {
	ArticlesGenerated int `json:"articles_generated"`
}

// Synthesizer clusters recent posts and generates derivative articles.
// Best-effort: internal failures are swallowed and reported as zero articles;
// only unrecoverable input errors propagate.
type Synthesizer interface {
	Synthesize(ctx context.Context, workspaceID string, settings models.WorkspaceSettings) (SynthesisResult, error)
}

// PublishContent is the platform-independent payload for one publish attempt.
type PublishContent struct {
	Caption  string // Rendered caption/body text
	MediaURL string // Selected media, may be empty for text-only platforms
	IsVideo  bool
}

// PlatformClient is one external publish platform. Each method may fail
// independently; the orchestrator isolates failures per platform.
type PlatformClient interface {
	Kind() models.PlatformKind
	// CreateContainer uploads/registers the content and returns a container ID.
	CreateContainer(ctx context.Context, creds *models.PlatformCredentials, content PublishContent) (string, error)
	// WaitForReady blocks until the container finishes processing, or fails.
	WaitForReady(ctx context.Context, creds *models.PlatformCredentials, containerID string) error
	// Publish makes the container live and returns the published media ID.
	Publish(ctx context.Context, creds *models.PlatformCredentials, containerID string) (string, error)
	// FetchPermalink resolves the public URL of a published media ID.
	FetchPermalink(ctx context.Context, creds *models.PlatformCredentials, publishedID string) (string, error)
}

// PublishOutcome reports what a publish run did, including the skip reason
// when gating short-circuited the run.
type PublishOutcome struct {
	Published int    `json:"published"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
}

// Publisher runs the gated publish sequence for one workspace.
type Publisher interface {
	PublishWorkspace(ctx context.Context, workspaceID string) (*PublishOutcome, error)
}

// TokenRefresher exchanges a platform access token for a fresh long-lived
// one. Refresh failures are tolerated by falling back to the current token.
type TokenRefresher interface {
	Refresh(ctx context.Context, creds *models.PlatformCredentials) (*models.PlatformCredentials, error)
}

// Notifier delivers operator-facing failure digests.
type Notifier interface {
	SendFailureDigest(ctx context.Context, runs []*models.PipelineRun, articles []*models.Article) error
}
