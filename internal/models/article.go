package models

import (
	"time"
)

// ArticleStatus is the review/publish lifecycle state of a synthesized article.
type ArticleStatus string

const (
	ArticleStatusPendingReview ArticleStatus = "PENDING_REVIEW"
	ArticleStatusApproved      ArticleStatus = "APPROVED"
	ArticleStatusRejected      ArticleStatus = "REJECTED"
	ArticleStatusPublished     ArticleStatus = "PUBLISHED"
	ArticleStatusError         ArticleStatus = "ERROR"
)

// IsTerminal reports whether the publish orchestrator will never touch an
// article in this status again. ERROR articles require operator intervention.
func (s ArticleStatus) IsTerminal() bool {
	return s == ArticleStatusPublished || s == ArticleStatusError || s == ArticleStatusRejected
}

// PlatformResult records a single platform's publish outcome for an article.
// Only populated for platforms that succeeded.
type PlatformResult struct {
	URL         string    `json:"url"`
	PublishedID string    `json:"published_id"`
	PublishedAt time.Time `json:"published_at"`
}

// Article is a synthesized derivative article awaiting review and publish.
type Article struct {
	ID                 string                          `badgerhold:"key" json:"id"`
	WorkspaceID        string                          `badgerhold:"index" json:"workspace_id"`
	Status             ArticleStatus                   `badgerhold:"index" json:"status"`
	Title              string                          `json:"title"`
	Body               string                          `json:"body"` // Markdown
	Language           string                          `json:"language"`
	SourcePostIDs      []string                        `json:"source_post_ids"`
	SelectedMediaURL   string                          `json:"selected_media_url,omitempty"` // Operator-picked media, overrides source scan
	ScheduledPublishAt *time.Time                      `json:"scheduled_publish_at,omitempty"`
	PlatformResults    map[PlatformKind]PlatformResult `json:"platform_results,omitempty"`
	RetryCount         int                             `json:"retry_count"`
	LastError          string                          `json:"last_error,omitempty"`
	CreatedAt          time.Time                       `json:"created_at"`
	UpdatedAt          time.Time                       `json:"updated_at"`
}

// PublishedAt returns the earliest platform publish timestamp recorded on the
// article, or nil if none.
func (a *Article) PublishedAt() *time.Time {
	var earliest *time.Time
	for _, r := range a.PlatformResults {
		at := r.PublishedAt
		if at.IsZero() {
			continue
		}
		if earliest == nil || at.Before(*earliest) {
			earliest = &at
		}
	}
	return earliest
}

// EligibleForPublish reports whether the article may be picked up by a
// publish run at the given instant: approved, and either unscheduled or
// scheduled at or before now.
func (a *Article) EligibleForPublish(now time.Time) bool {
	if a.Status != ArticleStatusApproved {
		return false
	}
	if a.ScheduledPublishAt == nil {
		return true
	}
	return !a.ScheduledPublishAt.After(now)
}
