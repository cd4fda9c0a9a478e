package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8090},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "aiox",
			Password: "secret", Name: "aiox", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		LLM:   LLMConfig{AnthropicAPIKey: "a-key", GeminiAPIKey: "g-key"},
	}
	applyDefaults(cfg)
	cfg.Memory.EmbedTimeout = 3 * time.Second
	cfg.Memory.NativeQueryTimeout = 2 * time.Second
	cfg.Memory.SummarizationTimeout = 2 * time.Minute
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_DBPasswordMissing(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_ServerPortOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Fatalf("expected SERVER_PORT error, got: %v", err)
	}
}

func TestValidate_SaveIntervalZero(t *testing.T) {
	cfg := validConfig()
	cfg.Memory.SaveInterval = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "MEMORY_SAVE_INTERVAL") {
		t.Fatalf("expected MEMORY_SAVE_INTERVAL error, got: %v", err)
	}
}

func TestValidate_ThresholdOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Memory.SimilarityThreshold = 1.5
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "MEMORY_SIMILARITY_THRESHOLD") {
		t.Fatalf("expected MEMORY_SIMILARITY_THRESHOLD error, got: %v", err)
	}
}

func TestValidate_UnknownScheduler(t *testing.T) {
	cfg := validConfig()
	cfg.Memory.SchedulerMode = "cron"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "MEMORY_SCHEDULER") {
		t.Fatalf("expected MEMORY_SCHEDULER error, got: %v", err)
	}
}

func TestValidate_TracingWithoutEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.Enabled = true
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "TRACING_ENDPOINT") {
		t.Fatalf("expected TRACING_ENDPOINT error, got: %v", err)
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	cfg.Memory.MaxClusterSize = 1
	cfg.Memory.EmbedTimeout = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"DB_PASSWORD", "MEMORY_CLUSTER_MAX_SIZE", "timeouts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error, got: %v", want, err)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Memory.SaveInterval != 10 || cfg.Memory.SummarizationInterval != 10 {
		t.Fatalf("unexpected intervals: %+v", cfg.Memory)
	}
	if cfg.Memory.FallbackWindow != 100 {
		t.Fatalf("expected fallback window 100, got %d", cfg.Memory.FallbackWindow)
	}
	if cfg.Memory.EmbeddingDimension != 1536 {
		t.Fatalf("expected dimension 1536, got %d", cfg.Memory.EmbeddingDimension)
	}
	if cfg.Memory.SchedulerMode != "local" {
		t.Fatalf("expected local scheduler, got %q", cfg.Memory.SchedulerMode)
	}
}
