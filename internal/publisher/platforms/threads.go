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

const defaultThreadsBase = "https://graph.threads.net/v1.0"

// Threads publishes text-first posts with optional media through the Threads
// container flow. Text-only containers are valid here, unlike Instagram.
type Threads struct {
	httpClient *http.Client
	base       string
	pollWaitD  time.Duration
	logger     arbor.ILogger
}

// NewThreads creates a Threads publish client.
func NewThreads(requestTimeout, containerPollWait time.Duration, logger arbor.ILogger) *Threads {
	return &Threads{
		httpClient: &http.Client{Timeout: requestTimeout},
		base:       defaultThreadsBase,
		pollWaitD:  containerPollWait,
		logger:     logger,
	}
}

func (c *Threads) Kind() models.PlatformKind {
	return models.PlatformThreads
}

func (c *Threads) CreateContainer(ctx context.Context, creds *models.PlatformCredentials, content interfaces.PublishContent) (string, error) {
	params := url.Values{
		"text":         {content.Caption},
		"access_token": {creds.AccessToken},
	}
	switch {
	case content.MediaURL == "":
		params.Set("media_type", "TEXT")
	case content.IsVideo:
		params.Set("media_type", "VIDEO")
		params.Set("video_url", content.MediaURL)
	default:
		params.Set("media_type", "IMAGE")
		params.Set("image_url", content.MediaURL)
	}

	var resp struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/threads", c.base, creds.AccountID)
	if err := postForm(ctx, c.httpClient, endpoint, params, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("container creation returned no ID")
	}
	return resp.ID, nil
}

func (c *Threads) WaitForReady(ctx context.Context, creds *models.PlatformCredentials, containerID string) error {
	endpoint := fmt.Sprintf("%s/%s", c.base, containerID)
	params := url.Values{
		"fields":       {"status"},
		"access_token": {creds.AccessToken},
	}

	for {
		var resp struct {
			Status string `json:"status"`
		}
		if err := getJSON(ctx, c.httpClient, endpoint, params, &resp); err != nil {
			return err
		}

		switch resp.Status {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("container %s ended in status %s", containerID, resp.Status)
		}

		if err := pollWait(ctx, c.pollWaitD); err != nil {
			return err
		}
	}
}

func (c *Threads) Publish(ctx context.Context, creds *models.PlatformCredentials, containerID string) (string, error) {
	params := url.Values{
		"creation_id":  {containerID},
		"access_token": {creds.AccessToken},
	}
	var resp struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/threads_publish", c.base, creds.AccountID)
	if err := postForm(ctx, c.httpClient, endpoint, params, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("publish returned no media ID")
	}
	return resp.ID, nil
}

func (c *Threads) FetchPermalink(ctx context.Context, creds *models.PlatformCredentials, publishedID string) (string, error) {
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
