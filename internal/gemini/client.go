// Package gemini adapts Gemini models to the capabilities the rest of the
// system needs: PDF text extraction, transaction structuring, embeddings and
// tool-calling decisions. All calls share one rate limiter.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// Models is the subset of the genai client used here. *genai.Models satisfies it.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type Config struct {
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client is a rate-limited, deadline-bounded wrapper over the genai models API.
type Client struct {
	models  Models
	limiter *rate.Limiter
	timeout time.Duration
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, finerr.New(finerr.CodeConfigValidateInvalidValue, "gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewClient: create genai client: %w", err)
	}
	return NewWithModels(client.Models, cfg.RequestsPerSecond, cfg.Timeout), nil
}

// NewWithModels wraps an existing models API. rps <= 0 disables rate limiting.
func NewWithModels(models Models, rps float64, timeout time.Duration) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		models:  models,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
	}
}

func (c *Client) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(err, "waiting for rate limiter")
	}
	resp, err := c.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, classify(err, "generate content")
	}
	return resp, nil
}

func (c *Client) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(err, "waiting for rate limiter")
	}
	resp, err := c.models.EmbedContent(ctx, model, contents, config)
	if err != nil {
		return nil, classify(err, "embed content")
	}
	return resp, nil
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func classify(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return finerr.Wrap(err, finerr.CodeProviderTimeout, "gemini: "+msg)
	}
	return finerr.Wrap(err, finerr.CodeProviderUpstreamFailure, "gemini: "+msg)
}
