package models

import (
	"strings"
	"time"
)

// MediaType is the declared type of a post's media attachment.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// MediaRef points at a media attachment on a source post. Upstream metadata
// is inconsistent: the URL is treated as authoritative over DeclaredType when
// it carries a known video marker.
type MediaRef struct {
	URL          string    `json:"url"`
	DeclaredType MediaType `json:"declared_type"`
}

// videoMarkers are URL fragments that identify a playable video regardless
// of the declared media type.
var videoMarkers = []string{"/video/", ".mp4", "/reel/"}

// IsVideo reports whether the media is a playable video, preferring URL
// evidence over the declared type.
func (m MediaRef) IsVideo() bool {
	lower := strings.ToLower(m.URL)
	for _, marker := range videoMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return m.DeclaredType == MediaTypeVideo
}

// SourcePost is one scraped item from a social content source.
type SourcePost struct {
	ID             string     `badgerhold:"key" json:"id"`
	WorkspaceID    string     `badgerhold:"index" json:"workspace_id"`
	SourceID       string     `badgerhold:"index" json:"source_id"`
	ExternalID     string     `badgerhold:"index" json:"external_id"` // Platform-native post ID, dedup key
	Author         string     `json:"author"`
	FollowerCount  int        `json:"follower_count"` // 0 means unknown
	Text           string     `json:"text"`           // Markdown-normalized body
	Media          []MediaRef `json:"media,omitempty"`
	LikeCount      int        `json:"like_count"`
	ShareCount     int        `json:"share_count"`
	CommentCount   int        `json:"comment_count"`
	PostedAt       time.Time  `json:"posted_at"`
	CollectedAt    time.Time  `json:"collected_at"`
	UsedByArticles []string   `json:"used_by_articles,omitempty"`
}

// EngagementScore is the aggregate used against the workspace's minimum
// engagement threshold.
func (p *SourcePost) EngagementScore() int {
	return p.LikeCount + 2*p.CommentCount + 3*p.ShareCount
}
