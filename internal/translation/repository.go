package translation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines translation persistence operations.
type Repository interface {
	SaveMessage(ctx context.Context, mt *MessageTranslation) error
	SaveWords(ctx context.Context, messageID uuid.UUID, words []WordTranslation) error
	FindByMessageIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*MessageTranslation, error)
}

// PostgresRepository implements Repository using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new translation repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) SaveMessage(ctx context.Context, mt *MessageTranslation) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO message_translations (message_id, full_translation, level)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO UPDATE
		 SET full_translation = EXCLUDED.full_translation, level = EXCLUDED.level, updated_at = NOW()
		 RETURNING created_at`,
		mt.MessageID, mt.FullTranslation, mt.Level,
	).Scan(&mt.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving message translation: %w", err)
	}
	return nil
}

// SaveWords replaces the words of a message in one transaction.
func (r *PostgresRepository) SaveWords(ctx context.Context, messageID uuid.UUID, words []WordTranslation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning word save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM word_translations WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("clearing words: %w", err)
	}

	batch := &pgx.Batch{}
	for _, w := range words {
		batch.Queue(
			`INSERT INTO word_translations (message_id, position, original_word, translation, sentence)
			 VALUES ($1, $2, $3, $4, $5)`,
			messageID, w.Position, w.OriginalWord, w.Translation, w.Sentence,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting words: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing word save: %w", err)
	}
	return nil
}

// FindByMessageIDs loads the translations of many messages with two queries.
func (r *PostgresRepository) FindByMessageIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*MessageTranslation, error) {
	out := make(map[uuid.UUID]*MessageTranslation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT message_id, full_translation, level, created_at
		 FROM message_translations WHERE message_id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("finding message translations: %w", err)
	}
	for rows.Next() {
		mt := &MessageTranslation{}
		if err := rows.Scan(&mt.MessageID, &mt.FullTranslation, &mt.Level, &mt.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning message translation: %w", err)
		}
		out[mt.MessageID] = mt
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.pool.Query(ctx,
		`SELECT message_id, position, original_word, translation, sentence
		 FROM word_translations WHERE message_id = ANY($1)
		 ORDER BY message_id, position`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("finding word translations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var w WordTranslation
		if err := rows.Scan(&id, &w.Position, &w.OriginalWord, &w.Translation, &w.Sentence); err != nil {
			return nil, fmt.Errorf("scanning word translation: %w", err)
		}
		if mt, ok := out[id]; ok {
			mt.Words = append(mt.Words, w)
		}
	}
	return out, rows.Err()
}
