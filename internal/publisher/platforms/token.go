package platforms

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/models"
	"golang.org/x/oauth2"
)

const defaultRefreshEndpoint = "https://graph.instagram.com/refresh_access_token"

// TokenRefresher exchanges a long-lived platform token for a fresh one via
// the Graph refresh endpoint. The refreshed expiry is reported by the
// platform, typically around 60 days out.
type TokenRefresher struct {
	endpoint string
	logger   arbor.ILogger
}

// NewTokenRefresher creates a refresher against the default Graph endpoint.
func NewTokenRefresher(logger arbor.ILogger) *TokenRefresher {
	return &TokenRefresher{
		endpoint: defaultRefreshEndpoint,
		logger:   logger,
	}
}

// Refresh returns a new credential bundle carrying the refreshed token. The
// caller falls back to the current token when this fails.
func (r *TokenRefresher) Refresh(ctx context.Context, creds *models.PlatformCredentials) (*models.PlatformCredentials, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken})
	client := oauth2.NewClient(ctx, source)

	params := url.Values{
		"grant_type":   {"ig_refresh_token"},
		"access_token": {creds.AccessToken},
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := getJSON(ctx, client, r.endpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token refresh returned no token")
	}

	return &models.PlatformCredentials{
		AccountID:      creds.AccountID,
		AccessToken:    resp.AccessToken,
		TokenExpiresAt: time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}
