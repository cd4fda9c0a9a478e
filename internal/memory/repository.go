package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// Repository defines memory persistence operations.
type Repository interface {
	Create(ctx context.Context, mem *Memory) error
	SearchSimilar(ctx context.Context, p Partition, embedding []float32, limit int, threshold float64) ([]SearchResult, error)
	ListRecent(ctx context.Context, p Partition, limit int) ([]Memory, error)
	ListByPartition(ctx context.Context, p Partition, page, pageSize int) ([]Memory, error)
	CountByPartition(ctx context.Context, p Partition) (int64, error)
	GetByID(ctx context.Context, p Partition, id int64) (*Memory, error)
	Delete(ctx context.Context, p Partition, id int64) error
	DeleteMany(ctx context.Context, p Partition, ids []int64) (int64, error)
	DeleteByPartition(ctx context.Context, p Partition) error
	ReplaceCluster(ctx context.Context, p Partition, ids []int64, replacements []*Memory) error
	UpdateCount(ctx context.Context, p Partition) (int64, error)
	IncrementUpdateCount(ctx context.Context, p Partition) (int64, error)
	ResetUpdateCount(ctx context.Context, p Partition) error
}

// PostgresRepository implements Repository using pgx + pgvector.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new memory repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const incrementCounterSQL = `
	INSERT INTO memory_counters (agent_id, user_id, update_count)
	VALUES ($1, $2, 1)
	ON CONFLICT (agent_id, user_id) DO UPDATE
	SET update_count = memory_counters.update_count + 1, updated_at = NOW()
	RETURNING update_count`

// Create bumps the partition counter and inserts the memory stamped with the new
// value, in one transaction. The counter row lock serializes concurrent writers.
func (r *PostgresRepository) Create(ctx context.Context, mem *Memory) error {
	if len(mem.Embedding) == 0 {
		return ErrMissingEmbedding
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning memory insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var count int64
	if err := tx.QueryRow(ctx, incrementCounterSQL, mem.AgentID, mem.UserID).Scan(&count); err != nil {
		return fmt.Errorf("incrementing update count: %w", err)
	}
	mem.UpdateCount = count

	if err := insertMemory(ctx, tx, mem); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing memory insert: %w", err)
	}
	return nil
}

func insertMemory(ctx context.Context, tx pgx.Tx, mem *Memory) error {
	contextBytes := mem.Context
	if len(contextBytes) == 0 {
		contextBytes = json.RawMessage(`{}`)
	}

	err := tx.QueryRow(ctx,
		`INSERT INTO agent_memories (agent_id, user_id, key_point, context, embedding, update_count)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		mem.AgentID, mem.UserID, mem.KeyPoint, contextBytes, pgvector.NewVector(mem.Embedding), mem.UpdateCount,
	).Scan(&mem.ID, &mem.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}
	mem.Context = contextBytes
	return nil
}

func (r *PostgresRepository) SearchSimilar(ctx context.Context, p Partition, embedding []float32, limit int, threshold float64) ([]SearchResult, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := r.pool.Query(ctx,
		`SELECT id, agent_id, user_id, key_point, context, update_count, created_at,
		        1 - (embedding <=> $1) AS similarity
		 FROM agent_memories
		 WHERE agent_id = $2 AND user_id = $3
		   AND embedding IS NOT NULL
		   AND 1 - (embedding <=> $1) >= $4
		 ORDER BY embedding <=> $1
		 LIMIT $5`,
		vec, p.AgentID, p.UserID, threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching similar memories: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var m Memory
		var similarity float64
		if err := rows.Scan(&m.ID, &m.AgentID, &m.UserID, &m.KeyPoint, &m.Context, &m.UpdateCount, &m.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, SearchResult{Memory: m, Similarity: similarity})
	}
	return results, rows.Err()
}

// ListRecent returns the partition's newest memories including their embeddings.
func (r *PostgresRepository) ListRecent(ctx context.Context, p Partition, limit int) ([]Memory, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, agent_id, user_id, key_point, context, embedding, update_count, created_at
		 FROM agent_memories
		 WHERE agent_id = $1 AND user_id = $2 AND embedding IS NOT NULL
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		p.AgentID, p.UserID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		var m Memory
		var vec pgvector.Vector
		if err := rows.Scan(&m.ID, &m.AgentID, &m.UserID, &m.KeyPoint, &m.Context, &vec, &m.UpdateCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		m.Embedding = vec.Slice()
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (r *PostgresRepository) ListByPartition(ctx context.Context, p Partition, page, pageSize int) ([]Memory, error) {
	offset := (page - 1) * pageSize
	rows, err := r.pool.Query(ctx,
		`SELECT id, agent_id, user_id, key_point, context, update_count, created_at
		 FROM agent_memories
		 WHERE agent_id = $1 AND user_id = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		p.AgentID, p.UserID, pageSize, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.AgentID, &m.UserID, &m.KeyPoint, &m.Context, &m.UpdateCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (r *PostgresRepository) CountByPartition(ctx context.Context, p Partition) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agent_memories WHERE agent_id = $1 AND user_id = $2`,
		p.AgentID, p.UserID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting memories: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, p Partition, id int64) (*Memory, error) {
	var m Memory
	err := r.pool.QueryRow(ctx,
		`SELECT id, agent_id, user_id, key_point, context, update_count, created_at
		 FROM agent_memories
		 WHERE id = $1 AND agent_id = $2 AND user_id = $3`,
		id, p.AgentID, p.UserID,
	).Scan(&m.ID, &m.AgentID, &m.UserID, &m.KeyPoint, &m.Context, &m.UpdateCount, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting memory: %w", err)
	}
	return &m, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, p Partition, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM agent_memories WHERE id = $1 AND agent_id = $2 AND user_id = $3`,
		id, p.AgentID, p.UserID,
	)
	if err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteMany(ctx context.Context, p Partition, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM agent_memories WHERE agent_id = $1 AND user_id = $2 AND id = ANY($3)`,
		p.AgentID, p.UserID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting memories: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) DeleteByPartition(ctx context.Context, p Partition) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM agent_memories WHERE agent_id = $1 AND user_id = $2`,
		p.AgentID, p.UserID,
	)
	if err != nil {
		return fmt.Errorf("deleting partition memories: %w", err)
	}
	return nil
}

// ReplaceCluster deletes ids and inserts replacements in one transaction. If any
// id is already gone the cluster changed underneath us and nothing is committed.
func (r *PostgresRepository) ReplaceCluster(ctx context.Context, p Partition, ids []int64, replacements []*Memory) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning cluster replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM agent_memories WHERE agent_id = $1 AND user_id = $2 AND id = ANY($3)`,
		p.AgentID, p.UserID, ids,
	)
	if err != nil {
		return fmt.Errorf("deleting cluster: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return fmt.Errorf("cluster changed (%d of %d rows present): %w", tag.RowsAffected(), len(ids), ErrNotFound)
	}

	var count int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE((SELECT update_count FROM memory_counters WHERE agent_id = $1 AND user_id = $2), 0)`,
		p.AgentID, p.UserID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("reading update count: %w", err)
	}

	for _, mem := range replacements {
		if len(mem.Embedding) == 0 {
			return ErrMissingEmbedding
		}
		mem.AgentID, mem.UserID, mem.UpdateCount = p.AgentID, p.UserID, count
		if err := insertMemory(ctx, tx, mem); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing cluster replace: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateCount(ctx context.Context, p Partition) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT update_count FROM memory_counters WHERE agent_id = $1 AND user_id = $2`,
		p.AgentID, p.UserID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading update count: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) IncrementUpdateCount(ctx context.Context, p Partition) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, incrementCounterSQL, p.AgentID, p.UserID).Scan(&count); err != nil {
		return 0, fmt.Errorf("incrementing update count: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) ResetUpdateCount(ctx context.Context, p Partition) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE memory_counters SET update_count = 0, updated_at = NOW()
		 WHERE agent_id = $1 AND user_id = $2`,
		p.AgentID, p.UserID,
	)
	if err != nil {
		return fmt.Errorf("resetting update count: %w", err)
	}
	return nil
}
