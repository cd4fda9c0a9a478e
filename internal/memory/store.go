package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aiox-platform/mnemo/internal/metrics"
	"github.com/aiox-platform/mnemo/internal/similarity"
)

// StoreOptions tune the retrieval paths of a Store.
type StoreOptions struct {
	Dimension      int
	FallbackWindow int
	NativeTimeout  time.Duration
}

// Store owns memory persistence and similarity retrieval for a partition. Native
// pgvector search is tried first; on any failure the partition's most recent
// records are ranked in-process.
type Store struct {
	repo Repository
	opts StoreOptions
}

// NewStore creates a new memory store.
func NewStore(repo Repository, opts StoreOptions) *Store {
	if opts.FallbackWindow <= 0 {
		opts.FallbackWindow = 100
	}
	if opts.NativeTimeout <= 0 {
		opts.NativeTimeout = 2 * time.Second
	}
	return &Store{repo: repo, opts: opts}
}

// FindSimilar returns at most topK memories with similarity >= threshold. An empty
// result means a search path succeeded and found nothing. When both paths fail the
// returned error wraps ErrRetrievalUnavailable.
func (s *Store) FindSimilar(ctx context.Context, p Partition, query []float32, topK int, threshold float64) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	start := time.Now()
	results, nativeErr := s.findNative(ctx, p, query, topK, threshold)
	if nativeErr == nil {
		metrics.MemoryRetrievalTotal.WithLabelValues("native").Inc()
		metrics.MemoryRetrievalDuration.WithLabelValues("native").Observe(time.Since(start).Seconds())
		return results, nil
	}

	slog.Warn("memory: native search failed, falling back to in-process ranking",
		"error", nativeErr, "agent_id", p.AgentID, "user_id", p.UserID)

	start = time.Now()
	results, fallbackErr := s.findFallback(ctx, p, query, topK, threshold)
	if fallbackErr != nil {
		metrics.MemoryRetrievalTotal.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: native: %v; fallback: %w", ErrRetrievalUnavailable, nativeErr, fallbackErr)
	}
	metrics.MemoryRetrievalTotal.WithLabelValues("fallback").Inc()
	metrics.MemoryRetrievalDuration.WithLabelValues("fallback").Observe(time.Since(start).Seconds())
	return results, nil
}

func (s *Store) findNative(ctx context.Context, p Partition, query []float32, topK int, threshold float64) ([]SearchResult, error) {
	if err := s.checkDimension(query); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.NativeTimeout)
	defer cancel()

	results, err := s.repo.SearchSimilar(ctx, p, query, topK, threshold)
	if err != nil {
		return nil, err
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) findFallback(ctx context.Context, p Partition, query []float32, topK int, threshold float64) ([]SearchResult, error) {
	recent, err := s.repo.ListRecent(ctx, p, s.opts.FallbackWindow)
	if err != nil {
		return nil, fmt.Errorf("loading fallback candidates: %w", err)
	}

	candidates := make([]similarity.Candidate, 0, len(recent))
	byID := make(map[int64]Memory, len(recent))
	for _, m := range recent {
		candidates = append(candidates, similarity.Candidate{ID: m.ID, Vector: m.Embedding})
		byID[m.ID] = m
	}

	matches, err := similarity.TopK(query, candidates, topK, threshold)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		m := byID[match.ID]
		m.Embedding = nil
		results = append(results, SearchResult{Memory: m, Similarity: match.Similarity})
	}
	return results, nil
}

func (s *Store) checkDimension(vec []float32) error {
	if s.opts.Dimension > 0 && len(vec) != s.opts.Dimension {
		return fmt.Errorf("vector has %d dimensions, want %d: %w", len(vec), s.opts.Dimension, similarity.ErrDimensionMismatch)
	}
	return nil
}

// Create stores a new memory stamped with the partition's next update count.
func (s *Store) Create(ctx context.Context, p Partition, keyPoint string, memContext json.RawMessage, vector []float32) (*Memory, error) {
	if len(vector) == 0 {
		return nil, ErrMissingEmbedding
	}
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}

	mem := &Memory{
		AgentID:   p.AgentID,
		UserID:    p.UserID,
		KeyPoint:  truncateRunes(strings.TrimSpace(keyPoint), KeyPointMaxRunes),
		Context:   memContext,
		Embedding: vector,
	}
	if err := s.repo.Create(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

func (s *Store) UpdateCount(ctx context.Context, p Partition) (int64, error) {
	return s.repo.UpdateCount(ctx, p)
}

func (s *Store) IncrementUpdateCount(ctx context.Context, p Partition) (int64, error) {
	return s.repo.IncrementUpdateCount(ctx, p)
}

func (s *Store) ResetUpdateCount(ctx context.Context, p Partition) error {
	return s.repo.ResetUpdateCount(ctx, p)
}

// DeleteMany retires a set of records in one statement.
func (s *Store) DeleteMany(ctx context.Context, p Partition, ids []int64) (int64, error) {
	return s.repo.DeleteMany(ctx, p, ids)
}

// List returns paginated memories for a partition.
func (s *Store) List(ctx context.Context, p Partition, page, pageSize int) ([]Memory, int64, error) {
	memories, err := s.repo.ListByPartition(ctx, p, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.repo.CountByPartition(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	return memories, count, nil
}

// Search runs FindSimilar with request defaults applied.
func (s *Store) Search(ctx context.Context, p Partition, req *SearchMemoryRequest) ([]SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	threshold := req.Threshold
	if threshold == 0 {
		threshold = 0.7
	}
	return s.FindSimilar(ctx, p, req.Embedding, limit, threshold)
}

// Delete deletes a single memory.
func (s *Store) Delete(ctx context.Context, p Partition, id int64) error {
	return s.repo.Delete(ctx, p, id)
}

// DeleteAll wipes the partition and resets its counter.
func (s *Store) DeleteAll(ctx context.Context, p Partition) error {
	if err := s.repo.DeleteByPartition(ctx, p); err != nil {
		return err
	}
	if err := s.repo.ResetUpdateCount(ctx, p); err != nil {
		return fmt.Errorf("resetting counter after wipe: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means retrieval could not be served at all.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrRetrievalUnavailable)
}

// IsLocked reports whether err means another summarization run holds the partition.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}
