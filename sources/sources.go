// Package sources fetches trending items from Google News RSS and Reddit.
package sources

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"authrax/pkg/authrax"
)

const (
	defaultGoogleNewsURL = "https://news.google.com"
	defaultRedditURL     = "https://www.reddit.com"
	defaultUserAgent     = "authrax-trends/1.0 (+https://authrax.com)"

	maxBodyBytes = 5 << 20
)

// Config holds fetcher configuration. Zero values select production endpoints.
type Config struct {
	HTTPClient    *http.Client
	Logger        *slog.Logger
	GoogleNewsURL string
	RedditURL     string
	UserAgent     string
}

// Client fetches items from the upstream trend sources.
type Client struct {
	http          *http.Client
	logger        *slog.Logger
	googleNewsURL string
	redditURL     string
	userAgent     string
}

// New creates a new source client.
func New(cfg *Config) *Client {
	c := &Client{
		http:          cfg.HTTPClient,
		logger:        cfg.Logger,
		googleNewsURL: cfg.GoogleNewsURL,
		redditURL:     cfg.RedditURL,
		userAgent:     cfg.UserAgent,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.googleNewsURL == "" {
		c.googleNewsURL = defaultGoogleNewsURL
	}
	if c.redditURL == "" {
		c.redditURL = defaultRedditURL
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	return c
}

// get performs one GET request and returns the body. Non-2xx responses are
// classified as UpstreamUnavailable; there is no retry.
func (c *Client) get(ctx context.Context, op, rawURL, accept string) ([]byte, error) {
	c.logger.Debug("HTTP request starting",
		"method", "GET",
		"url", rawURL,
		"purpose", op)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, authrax.E(authrax.Internal, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	startTime := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		c.logger.Warn("HTTP request failed",
			"url", rawURL,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, authrax.E(authrax.UpstreamUnavailable, op, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Info("HTTP request completed",
		"url", rawURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, authrax.Errorf(authrax.UpstreamUnavailable, op, "HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, authrax.E(authrax.UpstreamUnavailable, op, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}
