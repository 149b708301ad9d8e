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

const defaultInstagramBase = "https://graph.facebook.com/v21.0"

// Instagram publishes through the two-step media container flow: create a
// container, poll until processing finishes, then publish it.
type Instagram struct {
	httpClient *http.Client
	base       string
	pollWaitD  time.Duration
	logger     arbor.ILogger
}

// NewInstagram creates an Instagram publish client.
func NewInstagram(requestTimeout, containerPollWait time.Duration, logger arbor.ILogger) *Instagram {
	return &Instagram{
		httpClient: &http.Client{Timeout: requestTimeout},
		base:       defaultInstagramBase,
		pollWaitD:  containerPollWait,
		logger:     logger,
	}
}

func (c *Instagram) Kind() models.PlatformKind {
	return models.PlatformInstagram
}

func (c *Instagram) CreateContainer(ctx context.Context, creds *models.PlatformCredentials, content interfaces.PublishContent) (string, error) {
	params := url.Values{
		"caption":      {content.Caption},
		"access_token": {creds.AccessToken},
	}
	switch {
	case content.MediaURL == "":
		return "", fmt.Errorf("instagram requires media")
	case content.IsVideo:
		params.Set("media_type", "REELS")
		params.Set("video_url", content.MediaURL)
	default:
		params.Set("image_url", content.MediaURL)
	}

	var resp struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/media", c.base, creds.AccountID)
	if err := postForm(ctx, c.httpClient, endpoint, params, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("container creation returned no ID")
	}
	return resp.ID, nil
}

// WaitForReady polls the container status until FINISHED. Video containers
// can take a while; the caller's context bounds the wait.
func (c *Instagram) WaitForReady(ctx context.Context, creds *models.PlatformCredentials, containerID string) error {
	endpoint := fmt.Sprintf("%s/%s", c.base, containerID)
	params := url.Values{
		"fields":       {"status_code"},
		"access_token": {creds.AccessToken},
	}

	for {
		var resp struct {
			StatusCode string `json:"status_code"`
		}
		if err := getJSON(ctx, c.httpClient, endpoint, params, &resp); err != nil {
			return err
		}

		switch resp.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("container %s ended in status %s", containerID, resp.StatusCode)
		}

		if err := pollWait(ctx, c.pollWaitD); err != nil {
			return err
		}
	}
}

func (c *Instagram) Publish(ctx context.Context, creds *models.PlatformCredentials, containerID string) (string, error) {
	params := url.Values{
		"creation_id":  {containerID},
		"access_token": {creds.AccessToken},
	}
	var resp struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/media_publish", c.base, creds.AccountID)
	if err := postForm(ctx, c.httpClient, endpoint, params, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("publish returned no media ID")
	}
	return resp.ID, nil
}

func (c *Instagram) FetchPermalink(ctx context.Context, creds *models.PlatformCredentials, publishedID string) (string, error) {
	params := url.Values{
		"fields":       {"permalink"},
		"access_token": {creds.AccessToken},
	}
	var resp struct {
		Permalink string `json:"permalink"`
	}
	endpoint := fmt.Sprintf("%s/%s", c.base, publishedID)
	if err := getJSON(ctx, c.httpClient, endpoint, params, &resp); err != nil {
		return "", err
	}
	return resp.Permalink, nil
}
