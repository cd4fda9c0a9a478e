package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aiox-platform/mnemo/internal/config"
)

// ErrNoVectorExtension is returned when the pgvector extension is not installed.
var ErrNoVectorExtension = errors.New("database: pgvector extension not installed")

// NewPostgresPool connects to Postgres and checks that pgvector is available.
// Native similarity search needs it; without it the memory store only serves
// its in-process fallback, so a missing extension is logged rather than fatal.
func NewPostgresPool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	version, err := VectorExtensionVersion(ctx, pool)
	if err != nil {
		slog.Warn("pgvector unavailable, native memory search will fall back", "error", err)
	}

	slog.Info("connected to PostgreSQL", "host", cfg.Host, "port", cfg.Port, "db", cfg.Name, "pgvector", version)
	return pool, nil
}

// VectorExtensionVersion returns the installed pgvector version.
func VectorExtensionVersion(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	var version string
	err := pool.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoVectorExtension
	}
	if err != nil {
		return "", fmt.Errorf("reading pgvector version: %w", err)
	}
	return version, nil
}

// HealthCheck pings the pool.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}
