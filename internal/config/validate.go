package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Memory lifecycle
	m := c.Memory
	if m.SaveInterval < 1 {
		errs = append(errs, "MEMORY_SAVE_INTERVAL must be >= 1")
	}
	if m.SummarizationInterval < 1 {
		errs = append(errs, "MEMORY_SUMMARIZATION_INTERVAL must be >= 1")
	}
	if m.MaxInsightsPerUpdate < 1 {
		errs = append(errs, "MEMORY_MAX_INSIGHTS must be >= 1")
	}
	if m.EmbeddingDimension < 1 {
		errs = append(errs, "MEMORY_EMBEDDING_DIMENSION must be >= 1")
	}
	if m.SimilarityThreshold < -1 || m.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_SIMILARITY_THRESHOLD must be within [-1, 1], got %g", m.SimilarityThreshold))
	}
	if m.ClusterThreshold < -1 || m.ClusterThreshold > 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_CLUSTER_THRESHOLD must be within [-1, 1], got %g", m.ClusterThreshold))
	}
	if m.FallbackWindow < 1 {
		errs = append(errs, "MEMORY_FALLBACK_WINDOW must be >= 1")
	}
	if m.MaxClusterSize < 2 {
		errs = append(errs, "MEMORY_CLUSTER_MAX_SIZE must be >= 2")
	}
	if m.EmbedTimeout <= 0 || m.NativeQueryTimeout <= 0 || m.SummarizationTimeout <= 0 {
		errs = append(errs, "memory timeouts must be positive")
	}
	switch m.SchedulerMode {
	case "local", "nats":
	default:
		errs = append(errs, fmt.Sprintf("MEMORY_SCHEDULER must be local or nats, got %q", m.SchedulerMode))
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, "TRACING_ENDPOINT is required when tracing is enabled")
	}

	// LLM keys: warn only, the engine degrades without them
	if c.LLM.AnthropicAPIKey == "" {
		slog.Warn("ANTHROPIC_API_KEY is empty; completions and memory extraction will fail")
	}
	if c.LLM.GeminiAPIKey == "" {
		slog.Warn("GEMINI_API_KEY is empty; embeddings will fail and memory retrieval is disabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
