package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/aiox-platform/mnemo/internal/middleware"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Memory admin handlers
	ListMemories      http.HandlerFunc
	CreateMemory      http.HandlerFunc
	SearchMemories    http.HandlerFunc
	DeleteMemory      http.HandlerFunc
	DeleteAllMemories http.HandlerFunc

	// Engine handlers
	PreviewContext http.HandlerFunc
	Respond        http.HandlerFunc

	// Platform behavior rules
	GetSystemRules http.HandlerFunc
	PutSystemRules http.HandlerFunc
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimiter        func(http.Handler) http.Handler
	// Checks are run by the readiness probe, keyed by dependency name.
	Checks map[string]HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(mw.Tracing)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := readiness(cfg.Checks)
	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter)
		}

		r.Route("/settings/behavior-rules", func(r chi.Router) {
			r.Get("/", h.GetSystemRules)
			r.Put("/", h.PutSystemRules)
		})

		r.Route("/agents/{agentID}/users/{userID}", func(r chi.Router) {
			r.Post("/context", h.PreviewContext)
			r.Post("/respond", h.Respond)

			r.Route("/memories", func(r chi.Router) {
				r.Get("/", h.ListMemories)
				r.Post("/", h.CreateMemory)
				r.Post("/search", h.SearchMemories)
				r.Delete("/", h.DeleteAllMemories)
				r.Delete("/{memoryID}", h.DeleteMemory)
			})
		})
	})

	return r
}

// readiness reports every dependency's state and answers 503 if any is down.
func readiness(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK
		for name, check := range checks {
			if check == nil {
				health[name] = "not configured"
				continue
			}
			if err := check(ctx); err != nil {
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[name] = "healthy"
		}
		JSON(w, status, health)
	}
}
