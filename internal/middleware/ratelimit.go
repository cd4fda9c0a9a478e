package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/mnemo/internal/metrics"
)

// RateLimiter provides per-IP sliding-window rate limiting backed by Redis sorted sets.
type RateLimiter struct {
	client    redis.Cmdable
	scope     string
	maxReqs   int
	windowSec int
	reject    http.Handler
}

// NewRateLimiter creates a rate limiter that allows maxReqs per windowSec seconds
// for each client IP. Limiters with different scopes count separately.
func NewRateLimiter(client redis.Cmdable, scope string, maxReqs, windowSec int) *RateLimiter {
	return &RateLimiter{
		client:    client,
		scope:     scope,
		maxReqs:   maxReqs,
		windowSec: windowSec,
		reject:    http.HandlerFunc(tooManyRequests),
	}
}

// WithRejectHandler sets the handler that writes the 429 body. Limit headers are
// already set when it runs.
func (rl *RateLimiter) WithRejectHandler(h http.Handler) *RateLimiter {
	rl.reject = h
	return rl
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"too many requests"}`))
}

// Middleware returns an HTTP middleware that enforces the rate limit.
// On Redis errors it fails open (allows the request through).
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		key := "ratelimit:" + rl.scope + ":" + ip

		used, err := rl.allow(r.Context(), key)
		if err != nil {
			slog.Warn("rate limiter: redis error, failing open", "error", err, "ip", ip, "scope", rl.scope)
			metrics.RateLimitDecisionsTotal.WithLabelValues(rl.scope, "failed_open").Inc()
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.maxReqs - int(used) - 1
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.maxReqs))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if used >= int64(rl.maxReqs) {
			metrics.RateLimitDecisionsTotal.WithLabelValues(rl.scope, "rejected").Inc()
			w.Header().Set("Retry-After", strconv.Itoa(rl.windowSec))
			rl.reject.ServeHTTP(w, r)
			return
		}

		metrics.RateLimitDecisionsTotal.WithLabelValues(rl.scope, "allowed").Inc()
		next.ServeHTTP(w, r)
	})
}

// allow records the request and returns how many requests the window held before it.
func (rl *RateLimiter) allow(ctx context.Context, key string) (int64, error) {
	now := time.Now()
	windowStart := float64(now.Add(-time.Duration(rl.windowSec) * time.Second).UnixMilli())
	member := fmt.Sprintf("%d", now.UnixNano())
	score := float64(now.UnixMilli())

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	pipe.Expire(ctx, key, time.Duration(rl.windowSec)*time.Second+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return countCmd.Val(), nil
}

func clientIP(r *http.Request) string {
	// Check X-Forwarded-For first (trusted reverse proxy)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
