package llm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ErrEmbeddingDimension is returned when the embedding has the wrong size.
var ErrEmbeddingDimension = errors.New("llm: unexpected embedding dimension")

// Gemini produces embeddings with the Gemini API, throttled by a token bucket.
type Gemini struct {
	client    *genai.Client
	model     string
	dimension int32
	limiter   *rate.Limiter
}

// GeminiOptions configure the embedding adapter.
type GeminiOptions struct {
	APIKey     string
	Model      string
	Dimension  int
	RatePerSec float64
	Burst      int
}

// NewGemini creates a new Gemini embedding adapter.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Gemini{
		client:    client,
		model:     opts.Model,
		dimension: int32(opts.Dimension),
		limiter:   rate.NewLimiter(limit, burst),
	}, nil
}

// Embed returns the embedding of text. It waits for the rate limiter, so the
// caller's deadline bounds queueing as well as the call.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for embed rate limit: %w", err)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &g.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}
	return vectorFrom(resp, int(g.dimension))
}

func vectorFrom(resp *genai.EmbedContentResponse, dimension int) ([]float32, error) {
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("embedding content: empty response")
	}
	values := resp.Embeddings[0].Values
	if dimension > 0 && len(values) != dimension {
		return nil, fmt.Errorf("got %d values, want %d: %w", len(values), dimension, ErrEmbeddingDimension)
	}
	return values, nil
}
