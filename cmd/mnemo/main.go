package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aiox-platform/mnemo/internal/api"
	"github.com/aiox-platform/mnemo/internal/config"
	"github.com/aiox-platform/mnemo/internal/database"
	"github.com/aiox-platform/mnemo/internal/engine"
	"github.com/aiox-platform/mnemo/internal/llm"
	"github.com/aiox-platform/mnemo/internal/memory"
	mw "github.com/aiox-platform/mnemo/internal/middleware"
	inats "github.com/aiox-platform/mnemo/internal/nats"
	iredis "github.com/aiox-platform/mnemo/internal/redis"
	"github.com/aiox-platform/mnemo/internal/rules"
	"github.com/aiox-platform/mnemo/internal/server"
	"github.com/aiox-platform/mnemo/internal/telemetry"
	"github.com/aiox-platform/mnemo/internal/translation"
	"github.com/aiox-platform/mnemo/internal/worker"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("mnemo stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, "mnemo", version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("flushing traces", "error", err)
		}
	}()

	// Migrations run before the pool so the schema is in place for pgvector checks.
	if _, err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		return err
	}

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Model adapters
	gemini, err := llm.NewGemini(ctx, llm.GeminiOptions{
		APIKey:     cfg.LLM.GeminiAPIKey,
		Model:      cfg.LLM.EmbeddingModel,
		Dimension:  cfg.Memory.EmbeddingDimension,
		RatePerSec: cfg.LLM.EmbedRatePerSec,
		Burst:      cfg.LLM.EmbedBurst,
	})
	if err != nil {
		return err
	}
	embedder, err := llm.NewCachedEmbedder(gemini, cfg.LLM.EmbedCacheSize)
	if err != nil {
		return err
	}
	defer embedder.Close()
	claude := llm.NewClaude(cfg.LLM.AnthropicAPIKey, cfg.LLM.CompletionModel, cfg.LLM.MaxTokens)

	// Memory
	m := cfg.Memory
	store := memory.NewStore(memory.NewPostgresRepository(pool), memory.StoreOptions{
		Dimension:      m.EmbeddingDimension,
		FallbackWindow: m.FallbackWindow,
		NativeTimeout:  m.NativeQueryTimeout,
	})
	lifecycle := memory.NewLifecycle(store, embedder, claude, nil, memory.NewRedisLocker(redisClient), memory.LifecycleOptions{
		SaveInterval:          m.SaveInterval,
		SummarizationInterval: m.SummarizationInterval,
		MaxInsights:           m.MaxInsightsPerUpdate,
		TranscriptWindow:      m.TranscriptWindow,
		EmbedTimeout:          m.EmbedTimeout,
		SummarizationWindow:   m.SummarizationWindow,
		ClusterThreshold:      m.ClusterThreshold,
		MaxClusterSize:        m.MaxClusterSize,
		LockTTL:               m.SummarizationTimeout + time.Minute,
	})
	runner := worker.NewRunner(lifecycle, m.SummarizationTimeout, m.MaxConcurrentJobs)

	var (
		bg         sync.WaitGroup
		natsClient *inats.Client
	)
	switch m.SchedulerMode {
	case "nats":
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		lifecycle.SetScheduler(worker.NewNATSScheduler(inats.NewPublisher(natsClient.JetStream())))
		consumer := worker.NewSummaryConsumer(inats.NewConsumerManager(natsClient.JetStream()), runner)
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := consumer.Start(ctx); err != nil {
				slog.Error("summary consumer stopped", "error", err)
			}
		}()
	default:
		lifecycle.SetScheduler(runner)
	}

	shortTerm := memory.NewShortTermStore(redisClient, m.ShortTermMaxMsgs, time.Duration(m.ShortTermTTLSec)*time.Second)
	settings := rules.NewSettingsRepository(pool)

	defaults := memory.DefaultConfig()
	defaults.TopK = m.TopK
	defaults.SimilarityThreshold = m.SimilarityThreshold
	defaults.MaxShortTermMsgs = m.ShortTermMaxMsgs

	eng := engine.New(engine.Deps{
		Memories:     store,
		Embedder:     embedder,
		History:      shortTerm,
		Rules:        settings,
		Lifecycle:    lifecycle,
		Translations: translation.NewRecorder(translation.NewPostgresRepository(pool)),
		Completer:    claude,
		Defaults:     defaults,
		EmbedTimeout: m.EmbedTimeout,
	})

	memoryHandler := memory.NewHandler(store, embedder)
	rulesHandler := rules.NewHandler(settings)
	engineHandler := engine.NewHandler(eng)

	routerCfg := api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Checks: map[string]api.HealthCheck{
			"database": func(ctx context.Context) error { return database.HealthCheck(ctx, pool) },
			"redis":    func(ctx context.Context) error { return iredis.HealthCheck(ctx, redisClient) },
			"nats":     nil,
		},
	}
	if natsClient != nil {
		routerCfg.Checks["nats"] = natsClient.Ping
	}
	if cfg.Server.RateLimitRequests > 0 {
		limiter := mw.NewRateLimiter(redisClient, "api", cfg.Server.RateLimitRequests, cfg.Server.RateLimitWindowSec).
			WithRejectHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				api.HandleError(w, api.ErrTooManyRequests)
			}))
		routerCfg.RateLimiter = limiter.Middleware
	}

	router := api.NewRouter(routerCfg, api.HandlerSet{
		ListMemories:      memoryHandler.List,
		CreateMemory:      memoryHandler.Create,
		SearchMemories:    memoryHandler.Search,
		DeleteMemory:      memoryHandler.Delete,
		DeleteAllMemories: memoryHandler.DeleteAll,

		PreviewContext: engineHandler.PreviewContext,
		Respond:        engineHandler.Respond,

		GetSystemRules: rulesHandler.Get,
		PutSystemRules: rulesHandler.Put,
	})

	srv := server.New(cfg.Server, router)
	serveErr := srv.Run(ctx)
	stop()

	// Let detached summarization jobs finish before the pools close.
	drainCtx, cancel := context.WithTimeout(context.Background(), m.SummarizationTimeout)
	defer cancel()
	bg.Wait()
	if err := runner.Wait(drainCtx); err != nil {
		slog.Warn("summarization jobs still running at shutdown", "error", err)
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler).With("service", "mnemo", "version", version))
}
