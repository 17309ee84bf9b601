// Package llm wraps the Gemini API for embeddings and grounded generation.
package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/asesorlab/advisor/internal/config"
	"github.com/asesorlab/advisor/internal/pkg/logger"
)

// Embedder computes a dense embedding for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a completion for a prompt using a named model.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Client is the Gemini-backed implementation of Embedder and Generator.
type Client struct {
	client *genai.Client
	cfg    config.GeminiConfig
	log    *logger.Logger
}

// NewClient creates a Gemini client from configuration.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *logger.Logger) (*Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Client{
		client: client,
		cfg:    cfg,
		log:    log,
	}, nil
}

// Embed computes a dense embedding for text using the configured embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.EmbedTimeout())
	defer cancel()

	start := time.Now()
	resp, err := c.client.Models.EmbedContent(ctx, c.cfg.EmbedModel,
		genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embed content: empty embedding")
	}

	c.log.Debug("Embedded query",
		"model", c.cfg.EmbedModel,
		"dims", len(resp.Embeddings[0].Values),
		"duration", time.Since(start),
	)

	return resp.Embeddings[0].Values, nil
}

// Generate produces a completion for prompt using the named model.
// The timeout applies per call; the caller decides about retries.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	return c.generate(ctx, model, prompt, c.cfg.GenerateTimeout())
}

// GeneratorWithTimeout returns a Generator whose calls are bounded by
// timeout instead of the default generation timeout. Router
// classification and guard verification run on tighter deadlines than
// answer generation.
func (c *Client) GeneratorWithTimeout(timeout time.Duration) Generator {
	if timeout <= 0 {
		timeout = c.cfg.GenerateTimeout()
	}
	return &timeoutGenerator{client: c, timeout: timeout}
}

type timeoutGenerator struct {
	client  *Client
	timeout time.Duration
}

func (g *timeoutGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	return g.client.generate(ctx, model, prompt, g.timeout)
}

func (c *Client) generate(ctx context.Context, model, prompt string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.client.Models.GenerateContent(ctx, model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(0.2)),
		})
	if err != nil {
		return "", fmt.Errorf("generate content (%s): %w", model, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("generate content (%s): empty response", model)
	}

	return text, nil
}
