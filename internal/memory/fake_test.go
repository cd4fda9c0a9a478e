package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aiox-platform/mnemo/internal/similarity"
)

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	mu       sync.Mutex
	nextID   int64
	memories []Memory
	counters map[Partition]int64
	clock    time.Time

	searchErr  error
	listErr    error
	replaceErr error
	searchHook func(ctx context.Context) error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		counters: make(map[Partition]int64),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *fakeRepo) insertLocked(mem *Memory) {
	r.nextID++
	r.clock = r.clock.Add(time.Second)
	mem.ID = r.nextID
	mem.CreatedAt = r.clock
	r.memories = append(r.memories, *mem)
}

// seed inserts a memory without touching the counter.
func (r *fakeRepo) seed(p Partition, keyPoint string, vec []float32) Memory {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem := &Memory{AgentID: p.AgentID, UserID: p.UserID, KeyPoint: keyPoint, Embedding: vec}
	r.insertLocked(mem)
	return *mem
}

func (r *fakeRepo) Create(_ context.Context, mem *Memory) error {
	if len(mem.Embedding) == 0 {
		return ErrMissingEmbedding
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := mem.Partition()
	r.counters[p]++
	mem.UpdateCount = r.counters[p]
	r.insertLocked(mem)
	return nil
}

func (r *fakeRepo) SearchSimilar(ctx context.Context, p Partition, embedding []float32, limit int, threshold float64) ([]SearchResult, error) {
	if r.searchHook != nil {
		if err := r.searchHook(ctx); err != nil {
			return nil, err
		}
	}
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var results []SearchResult
	for _, m := range r.memories {
		if m.Partition() != p {
			continue
		}
		sim, err := similarity.Cosine(embedding, m.Embedding)
		if err != nil {
			return nil, err
		}
		if sim >= threshold {
			m.Embedding = nil
			results = append(results, SearchResult{Memory: m, Similarity: sim})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *fakeRepo) ListRecent(_ context.Context, p Partition, limit int) ([]Memory, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Memory
	for i := len(r.memories) - 1; i >= 0 && len(out) < limit; i-- {
		if r.memories[i].Partition() == p {
			out = append(out, r.memories[i])
		}
	}
	return out, nil
}

func (r *fakeRepo) ListByPartition(ctx context.Context, p Partition, page, pageSize int) ([]Memory, error) {
	all, _ := r.ListRecent(ctx, p, len(r.memories))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (r *fakeRepo) CountByPartition(_ context.Context, p Partition) (int64, error) {
	return int64(len(r.partition(p))), nil
}

func (r *fakeRepo) GetByID(_ context.Context, p Partition, id int64) (*Memory, error) {
	for _, m := range r.partition(p) {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) Delete(ctx context.Context, p Partition, id int64) error {
	n, _ := r.DeleteMany(ctx, p, []int64{id})
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fakeRepo) DeleteMany(_ context.Context, p Partition, ids []int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(p, ids), nil
}

func (r *fakeRepo) deleteLocked(p Partition, ids []int64) int64 {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := r.memories[:0]
	var n int64
	for _, m := range r.memories {
		if m.Partition() == p && drop[m.ID] {
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.memories = kept
	return n
}

func (r *fakeRepo) DeleteByPartition(_ context.Context, p Partition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.memories[:0]
	for _, m := range r.memories {
		if m.Partition() != p {
			kept = append(kept, m)
		}
	}
	r.memories = kept
	return nil
}

func (r *fakeRepo) ReplaceCluster(_ context.Context, p Partition, ids []int64, replacements []*Memory) error {
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	present := 0
	for _, m := range r.memories {
		for _, id := range ids {
			if m.Partition() == p && m.ID == id {
				present++
			}
		}
	}
	if present != len(ids) {
		return errors.New("cluster changed")
	}

	r.deleteLocked(p, ids)
	for _, mem := range replacements {
		mem.AgentID, mem.UserID, mem.UpdateCount = p.AgentID, p.UserID, r.counters[p]
		r.insertLocked(mem)
	}
	return nil
}

func (r *fakeRepo) UpdateCount(_ context.Context, p Partition) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[p], nil
}

func (r *fakeRepo) IncrementUpdateCount(_ context.Context, p Partition) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[p]++
	return r.counters[p], nil
}

func (r *fakeRepo) ResetUpdateCount(_ context.Context, p Partition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[p] = 0
	return nil
}

func (r *fakeRepo) setCount(p Partition, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[p] = n
}

func (r *fakeRepo) partition(p Partition) []Memory {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Memory
	for _, m := range r.memories {
		if m.Partition() == p {
			out = append(out, m)
		}
	}
	return out
}

// fakeEmbedder maps text to fixed vectors; unknown text gets def.
type fakeEmbedder struct {
	vectors map[string][]float32
	def     []float32
	err     error
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return e.def, nil
}

type fakeSummarizer struct {
	mu         sync.Mutex
	insights   []string
	extractErr error
	compress   func(keyPoints []string) (string, error)
	calls      int
	compressed [][]string
}

func (s *fakeSummarizer) ExtractInsights(_ context.Context, _ []ConversationEntry, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.insights, s.extractErr
}

func (s *fakeSummarizer) Compress(_ context.Context, keyPoints []string) (string, error) {
	s.mu.Lock()
	s.compressed = append(s.compressed, keyPoints)
	s.mu.Unlock()
	if s.compress != nil {
		return s.compress(keyPoints)
	}
	return "summary", nil
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []Partition
	err   error
}

func (s *fakeScheduler) Schedule(_ context.Context, p Partition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, p)
	return nil
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
