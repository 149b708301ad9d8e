package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// SourceKind identifies what a scrape target points at.
type SourceKind string

const (
	SourceKindAccount SourceKind = "account"
	SourceKindTopic   SourceKind = "topic"
)

// Source is a scrape target belonging to a workspace.
type Source struct {
	ID       string     `json:"id"`
	Kind     SourceKind `json:"kind" validate:"oneof=account topic"`
	Target   string     `json:"target" validate:"required"` // Account handle or topic/hashtag
	Disabled bool       `json:"disabled"`
}

// PlatformKind identifies a publish target platform.
type PlatformKind string

const (
	PlatformInstagram PlatformKind = "instagram"
	PlatformThreads   PlatformKind = "threads"
	PlatformFacebook  PlatformKind = "facebook"
)

// PlatformCredentials holds the credential bundle for one publish platform.
// A nil entry on the workspace disables that platform.
type PlatformCredentials struct {
	AccountID      string    `json:"account_id"`
	AccessToken    string    `json:"access_token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

// WorkspaceSettings is the per-workspace settings snapshot passed to
// collection jobs and the synthesis collaborator.
type WorkspaceSettings struct {
	Language         string        `json:"language"`
	FreshnessWindow  time.Duration `json:"freshness_window"`
	MinEngagement    int           `json:"min_engagement"`
	SkipEnrichment   bool          `json:"skip_enrichment"`
	SynthesisPrompt  string        `json:"synthesis_prompt,omitempty"`
	AutoApprove      bool          `json:"auto_approve"`
}

// Workspace is a tenant configuration: its sources, publish schedule,
// platform credentials, and pipeline timestamps. The scheduler mutates only
// the timestamps; everything else belongs to operator configuration.
type Workspace struct {
	ID                string                                `badgerhold:"key" json:"id"`
	Name              string                                `json:"name" validate:"required"`
	PublishTimes      []string                              `json:"publish_times" validate:"required,min=1,dive,publishtime"`
	ReviewWindowHours int                                   `json:"review_window_hours" validate:"min=1,max=24"`
	DailyPublishQuota int                                   `json:"daily_publish_quota" validate:"min=1"`
	Platforms         map[PlatformKind]*PlatformCredentials `json:"platforms"`
	Sources           []Source                              `json:"sources"`
	Settings          WorkspaceSettings                     `json:"settings"`
	IsActive          bool                                  `badgerhold:"index" json:"is_active"`
	LastCollectedAt   *time.Time                            `json:"last_collected_at,omitempty"`
	LastSynthesizedAt *time.Time                            `json:"last_synthesized_at,omitempty"`
	LastPublishedAt   *time.Time                            `json:"last_published_at,omitempty"`
	CreatedAt         time.Time                             `json:"created_at"`
	UpdatedAt         time.Time                             `json:"updated_at"`
}

// DefaultPublishTimes is the publish schedule applied to workspaces that
// don't configure their own.
var DefaultPublishTimes = []string{"12:00", "18:00", "22:00"}

// ReviewWindow returns the configured gap between synthesis and publish.
func (w *Workspace) ReviewWindow() time.Duration {
	return time.Duration(w.ReviewWindowHours) * time.Hour
}

// EnabledSources returns the workspace's sources that are not disabled.
func (w *Workspace) EnabledSources() []Source {
	result := make([]Source, 0, len(w.Sources))
	for _, s := range w.Sources {
		if !s.Disabled {
			result = append(result, s)
		}
	}
	return result
}

// ConfiguredPlatforms returns the platforms with a credential bundle present,
// in a stable order.
func (w *Workspace) ConfiguredPlatforms() []PlatformKind {
	ordered := []PlatformKind{PlatformInstagram, PlatformThreads, PlatformFacebook}
	result := make([]PlatformKind, 0, len(ordered))
	for _, kind := range ordered {
		if creds, ok := w.Platforms[kind]; ok && creds != nil && creds.AccessToken != "" {
			result = append(result, kind)
		}
	}
	return result
}

var workspaceValidator = newWorkspaceValidator()

func newWorkspaceValidator() *validator.Validate {
	v := validator.New()
	// publishtime validates the HH:MM civil-time form used by the scheduler.
	_ = v.RegisterValidation("publishtime", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) != 5 || s[2] != ':' {
			return false
		}
		hour := int(s[0]-'0')*10 + int(s[1]-'0')
		minute := int(s[3]-'0')*10 + int(s[4]-'0')
		for _, c := range s {
			if c != ':' && (c < '0' || c > '9') {
				return false
			}
		}
		return hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59
	})
	return v
}

// Validate checks the workspace configuration. Invalid publish times must be
// rejected here so that schedule math can treat them as always well-formed.
func (w *Workspace) Validate() error {
	if err := workspaceValidator.Struct(w); err != nil {
		return fmt.Errorf("invalid workspace configuration: %w", err)
	}
	return nil
}
