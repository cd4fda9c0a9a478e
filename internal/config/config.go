package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Redis   RedisConfig
	NATS    NATSConfig
	Memory  MemoryConfig
	LLM     LLMConfig
	Tracing TracingConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
	RateLimitRequests  int // per client IP per window, 0 disables
	RateLimitWindowSec int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL string
}

// MemoryConfig holds the engine-wide memory lifecycle settings.
type MemoryConfig struct {
	SaveInterval          int
	SummarizationInterval int
	MaxInsightsPerUpdate  int
	EmbeddingDimension    int
	TopK                  int
	SimilarityThreshold   float64
	FallbackWindow        int
	SummarizationWindow   int
	ClusterThreshold      float64
	MaxClusterSize        int
	TranscriptWindow      int
	ShortTermMaxMsgs      int
	ShortTermTTLSec       int
	EmbedTimeout          time.Duration
	NativeQueryTimeout    time.Duration
	SummarizationTimeout  time.Duration
	SchedulerMode         string // "local" or "nats"
	MaxConcurrentJobs     int
}

type LLMConfig struct {
	AnthropicAPIKey string
	CompletionModel string
	MaxTokens       int
	GeminiAPIKey    string
	EmbeddingModel  string
	EmbedRatePerSec float64
	EmbedBurst      int
	EmbedCacheSize  int64
}

type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
	Timeout    time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               k.String("server.host"),
			Port:               k.Int("server.port"),
			RateLimitRequests:  k.Int("server.ratelimit.requests"),
			RateLimitWindowSec: k.Int("server.ratelimit.window.sec"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		Memory: MemoryConfig{
			SaveInterval:          k.Int("memory.save.interval"),
			SummarizationInterval: k.Int("memory.summarization.interval"),
			MaxInsightsPerUpdate:  k.Int("memory.max.insights"),
			EmbeddingDimension:    k.Int("memory.embedding.dimension"),
			TopK:                  k.Int("memory.top.k"),
			SimilarityThreshold:   k.Float64("memory.similarity.threshold"),
			FallbackWindow:        k.Int("memory.fallback.window"),
			SummarizationWindow:   k.Int("memory.summarization.window"),
			ClusterThreshold:      k.Float64("memory.cluster.threshold"),
			MaxClusterSize:        k.Int("memory.cluster.max.size"),
			TranscriptWindow:      k.Int("memory.transcript.window"),
			ShortTermMaxMsgs:      k.Int("memory.shortterm.max.msgs"),
			ShortTermTTLSec:       k.Int("memory.shortterm.ttl.sec"),
			SchedulerMode:         k.String("memory.scheduler"),
			MaxConcurrentJobs:     k.Int("memory.max.jobs"),
		},
		LLM: LLMConfig{
			AnthropicAPIKey: k.String("anthropic.api.key"),
			CompletionModel: k.String("llm.completion.model"),
			MaxTokens:       k.Int("llm.max.tokens"),
			GeminiAPIKey:    k.String("gemini.api.key"),
			EmbeddingModel:  k.String("llm.embedding.model"),
			EmbedRatePerSec: k.Float64("llm.embed.rate"),
			EmbedBurst:      k.Int("llm.embed.burst"),
			EmbedCacheSize:  k.Int64("llm.embed.cache.size"),
		},
		Tracing: TracingConfig{
			Enabled:    k.Bool("tracing.enabled"),
			Endpoint:   k.String("tracing.endpoint"),
			SampleRate: k.Float64("tracing.sample.rate"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if origins := k.String("cors.allowed.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.CORSAllowedOrigins = append(cfg.Server.CORSAllowedOrigins, o)
			}
		}
	}

	applyDefaults(cfg)

	// Parse durations
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"memory.embed.timeout", "3s", &cfg.Memory.EmbedTimeout},
		{"memory.native.timeout", "2s", &cfg.Memory.NativeQueryTimeout},
		{"memory.summarization.timeout", "2m", &cfg.Memory.SummarizationTimeout},
		{"tracing.timeout", "5s", &cfg.Tracing.Timeout},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.def
		}
		*d.dest, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.RateLimitWindowSec == 0 {
		cfg.Server.RateLimitWindowSec = 60
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "mnemo"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "mnemo"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}

	m := &cfg.Memory
	if m.SaveInterval == 0 {
		m.SaveInterval = 10
	}
	if m.SummarizationInterval == 0 {
		m.SummarizationInterval = 10
	}
	if m.MaxInsightsPerUpdate == 0 {
		m.MaxInsightsPerUpdate = 3
	}
	if m.EmbeddingDimension == 0 {
		m.EmbeddingDimension = 1536
	}
	if m.TopK == 0 {
		m.TopK = 5
	}
	if m.SimilarityThreshold == 0 {
		m.SimilarityThreshold = 0.7
	}
	if m.FallbackWindow == 0 {
		m.FallbackWindow = 100
	}
	if m.SummarizationWindow == 0 {
		m.SummarizationWindow = 50
	}
	if m.ClusterThreshold == 0 {
		m.ClusterThreshold = 0.8
	}
	if m.MaxClusterSize == 0 {
		m.MaxClusterSize = 5
	}
	if m.TranscriptWindow == 0 {
		m.TranscriptWindow = 20
	}
	if m.ShortTermMaxMsgs == 0 {
		m.ShortTermMaxMsgs = 40
	}
	if m.ShortTermTTLSec == 0 {
		m.ShortTermTTLSec = 86400
	}
	if m.SchedulerMode == "" {
		m.SchedulerMode = "local"
	}
	if m.MaxConcurrentJobs == 0 {
		m.MaxConcurrentJobs = 4
	}

	if cfg.LLM.CompletionModel == "" {
		cfg.LLM.CompletionModel = "claude-sonnet-4-5"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if cfg.LLM.EmbeddingModel == "" {
		cfg.LLM.EmbeddingModel = "gemini-embedding-001"
	}
	if cfg.LLM.EmbedRatePerSec == 0 {
		cfg.LLM.EmbedRatePerSec = 20
	}
	if cfg.LLM.EmbedBurst == 0 {
		cfg.LLM.EmbedBurst = 5
	}
	if cfg.LLM.EmbedCacheSize == 0 {
		cfg.LLM.EmbedCacheSize = 10000
	}

	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 0.1
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
