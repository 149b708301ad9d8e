package common

import (
	"github.com/google/uuid"
)

// NewWorkspaceID generates a unique workspace ID with the "ws_" prefix
func NewWorkspaceID() string {
	return "ws_" + uuid.New().String()
}

// NewArticleID generates a unique article ID with the "art_" prefix
func NewArticleID() string {
	return "art_" + uuid.New().String()
}

// NewJobID generates a unique scrape job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewRunID generates a unique pipeline run ID with the "run_" prefix
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewPostID generates a unique source post ID with the "post_" prefix
func NewPostID() string {
	return "post_" + uuid.New().String()
}
