package models

import (
	"fmt"
	"time"
)

// ScrapeJob is an enqueued unit of collection work. Jobs are deduplicated by
// DedupKey so re-triggering a (workspace, source) pair before the in-flight
// job completes is a no-op.
type ScrapeJob struct {
	ID             string            `json:"id"`
	WorkspaceID    string            `json:"workspace_id"`
	SourceID       string            `json:"source_id,omitempty"`
	Target         string            `json:"target"`
	Kind           SourceKind        `json:"kind"`
	Settings       WorkspaceSettings `json:"settings"`
	SkipEnrichment bool              `json:"skip_enrichment"`
	Since          *time.Time        `json:"since,omitempty"` // Only collect posts newer than this
	EnqueuedAt     time.Time         `json:"enqueued_at"`
}

// DedupKey returns the deterministic deduplication key for this job.
func (j *ScrapeJob) DedupKey() string {
	return ScrapeDedupKey(j.WorkspaceID, j.SourceID)
}

// ScrapeDedupKey derives the queue deduplication key from the owning
// workspace and source.
func ScrapeDedupKey(workspaceID, sourceID string) string {
	return fmt.Sprintf("scrape:%s:%s", workspaceID, sourceID)
}

// OutcomeCounters aggregates per-job collection results for observability.
// Duplicates are counted separately and never feed the freshness or
// engagement rejection counters: a re-scraped known post is expected, not a
// filtering failure.
type OutcomeCounters struct {
	Raw                  int `json:"raw"`
	Qualified            int `json:"qualified"`
	RejectedFreshness    int `json:"rejected_freshness"`
	RejectedEngagement   int `json:"rejected_engagement"`
	Duplicates           int `json:"duplicates"`
	UnknownFollowerCount int `json:"unknown_follower_count"`
}

// Add accumulates another job's counters into this one.
func (c *OutcomeCounters) Add(other OutcomeCounters) {
	c.Raw += other.Raw
	c.Qualified += other.Qualified
	c.RejectedFreshness += other.RejectedFreshness
	c.RejectedEngagement += other.RejectedEngagement
	c.Duplicates += other.Duplicates
	c.UnknownFollowerCount += other.UnknownFollowerCount
}

// Metadata returns the counters as a run-record metadata map.
func (c OutcomeCounters) Metadata() map[string]interface{} {
	return map[string]interface{}{
		"raw":                    c.Raw,
		"qualified":              c.Qualified,
		"rejected_freshness":     c.RejectedFreshness,
		"rejected_engagement":    c.RejectedEngagement,
		"duplicates":             c.Duplicates,
		"unknown_follower_count": c.UnknownFollowerCount,
	}
}
