package platforms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
)

const defaultFacebookBase = "https://graph.facebook.com/v21.0"

// Facebook posts to a page feed. Page posts go live on creation, so the
// container flow degenerates: create is the publish, wait is a no-op and
// Publish returns the post ID unchanged.
type Facebook struct {
	httpClient *http.Client
	base       string
	logger     arbor.ILogger
}

// NewFacebook creates a Facebook page publish client.
func NewFacebook(requestTimeout time.Duration, logger arbor.ILogger) *Facebook {
	return &Facebook{
		httpClient: &http.Client{Timeout: requestTimeout},
		base:       defaultFacebookBase,
		logger:     logger,
	}
}

func (c *Facebook) Kind() models.PlatformKind {
	return models.PlatformFacebook
}

func (c *Facebook) CreateContainer(ctx context.Context, creds *models.PlatformCredentials, content interfaces.PublishContent) (string, error) {
	var endpoint string
	params := url.Values{"access_token": {creds.AccessToken}}

	switch {
	case content.MediaURL != "" && !content.IsVideo:
		endpoint = fmt.Sprintf("%s/%s/photos", c.base, creds.AccountID)
		params.Set("url", content.MediaURL)
		params.Set("caption", content.Caption)
	case content.MediaURL != "" && content.IsVideo:
		endpoint = fmt.Sprintf("%s/%s/videos", c.base, creds.AccountID)
		params.Set("file_url", content.MediaURL)
		params.Set("description", content.Caption)
	default:
		endpoint = fmt.Sprintf("%s/%s/feed", c.base, creds.AccountID)
		params.Set("message", content.Caption)
	}

	var resp struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := postForm(ctx, c.httpClient, endpoint, params, &resp); err != nil {
		return "", err
	}
	if resp.PostID != "" {
		return resp.PostID, nil
	}
	if resp.ID == "" {
		return "", fmt.Errorf("page post returned no ID")
	}
	return resp.ID, nil
}

func (c *Facebook) WaitForReady(ctx context.Context, creds *models.PlatformCredentials, containerID string) error {
	return nil
}

func (c *Facebook) Publish(ctx context.Context, creds *models.PlatformCredentials, containerID string) (string, error) {
	return containerID, nil
}

func (c *Facebook) FetchPermalink(ctx context.Context, creds *models.PlatformCredentials, publishedID string) (string, error) {
	params := url.Values{
		"fields":       {"permalink_url"},
		"access_token": {creds.AccessToken},
	}
	var resp struct {
		PermalinkURL string `json:"permalink_url"`
	}
	endpoint := fmt.Sprintf("%s/%s", c.base, publishedID)
	if err := getJSON(ctx, c.httpClient, endpoint, params, &resp); err != nil {
		return "", err
	}
	return resp.PermalinkURL, nil
}
