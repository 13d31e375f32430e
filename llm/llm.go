// Package llm talks to Gemini through its OpenAI-compatible chat endpoint.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"authrax/pkg/authrax"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Defaults for the Gemini OpenAI-compatible endpoint.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel   = "gemini-2.0-flash"
)

// Config holds LLM client configuration.
type Config struct {
	HTTPClient  *http.Client
	Logger      *slog.Logger
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
}

// Client issues single-prompt chat completions.
type Client struct {
	api         openai.Client
	logger      *slog.Logger
	model       string
	temperature float64
}

// New creates a new client. It fails with ConfigMissing if no API key is set.
func New(cfg *Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, authrax.Errorf(authrax.ConfigMissing, "llm.new", "GEMINI_API_KEY is not set")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	return &Client{
		api:         openai.NewClient(opts...),
		logger:      logger,
		model:       model,
		temperature: temperature,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends prompt as a single user message and returns the text of the
// first choice.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	})
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("LLM request failed",
			"model", c.model,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return "", authrax.E(authrax.UpstreamUnavailable, "llm.complete", fmt.Errorf("chat completion: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", authrax.Errorf(authrax.MalformedResponse, "llm.complete", "no choices in response")
	}

	c.logger.Info("LLM request completed",
		"model", c.model,
		"duration_ms", duration.Milliseconds(),
		"completion_tokens", resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}
