package llm

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/aiox-platform/mnemo/internal/memory"
	"github.com/aiox-platform/mnemo/internal/metrics"
)

// CachedEmbedder memoizes embeddings by exact text.
type CachedEmbedder struct {
	next  memory.Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps next with a cache holding up to maxEntries vectors.
func NewCachedEmbedder(next memory.Embedder, maxEntries int64) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

// Embed returns a cached vector or computes and stores a new one. Errors are not cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			return clone(vec), nil
		}
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, clone(vec), 1)
	return vec, nil
}

// Close stops the cache's background goroutines.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
