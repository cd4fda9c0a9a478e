package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BehaviorRulesKey is the system_settings key holding platform-wide rules.
const BehaviorRulesKey = "behavior_rules"

// SettingsRepository reads and writes system-wide settings.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// Get returns the decoded value stored under key, or nil if unset.
func (r *SettingsRepository) Get(ctx context.Context, key string) (any, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM system_settings WHERE key = $1`, key,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting setting %s: %w", key, err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		// Not valid JSON; hand the raw text to the parser.
		return string(data), nil
	}
	return value, nil
}

// Set upserts key with a JSON-encodable value.
func (r *SettingsRepository) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding setting %s: %w", key, err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO system_settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, data,
	)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// SystemRules returns the raw platform-wide behavior rules. It is read on every
// call since operators may change it at any time.
func (r *SettingsRepository) SystemRules(ctx context.Context) (any, error) {
	return r.Get(ctx, BehaviorRulesKey)
}
