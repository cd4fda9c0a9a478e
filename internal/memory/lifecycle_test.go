package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lifecycleFixture struct {
	repo       *fakeRepo
	embedder   *fakeEmbedder
	summarizer *fakeSummarizer
	scheduler  *fakeScheduler
	lifecycle  *Lifecycle
}

func newLifecycleFixture(insights ...string) *lifecycleFixture {
	f := &lifecycleFixture{
		repo:       newFakeRepo(),
		embedder:   &fakeEmbedder{def: []float32{1, 0}},
		summarizer: &fakeSummarizer{insights: insights},
		scheduler:  &fakeScheduler{},
	}
	store := newTestStore(f.repo)
	f.lifecycle = NewLifecycle(store, f.embedder, f.summarizer, f.scheduler, nil, LifecycleOptions{
		SaveInterval:          10,
		SummarizationInterval: 10,
		MaxInsights:           3,
	})
	return f
}

func transcriptWithUserMessages(n int) []ConversationEntry {
	var out []ConversationEntry
	for i := 0; i < n; i++ {
		out = append(out,
			ConversationEntry{Role: "user", Content: fmt.Sprintf("question %d", i)},
			ConversationEntry{Role: "assistant", Content: fmt.Sprintf("answer %d", i)},
		)
	}
	return out
}

func TestLifecycle_ShouldExtract(t *testing.T) {
	f := newLifecycleFixture()
	cases := map[int]bool{0: false, 1: true, 2: false, 9: false, 10: true, 11: false, 20: true}
	for n, want := range cases {
		assert.Equal(t, want, f.lifecycle.ShouldExtract(n), "messageCount=%d", n)
	}
}

func TestLifecycle_RecordTurn_FirstMessageExtracts(t *testing.T) {
	f := newLifecycleFixture("likes tea", "works nights")
	p := newPartition()

	out := f.lifecycle.RecordTurn(context.Background(), p, uuid.New(), transcriptWithUserMessages(1))
	assert.Equal(t, 1, out.MessageCount)
	assert.Equal(t, 2, out.Extracted)
	assert.False(t, out.SummarizationScheduled)

	stored := f.repo.partition(p)
	require.Len(t, stored, 2)
	assert.Equal(t, int64(1), stored[0].UpdateCount)
	assert.Equal(t, int64(2), stored[1].UpdateCount)
	assert.Contains(t, string(stored[0].Context), `"source":"extraction"`)
}

func TestLifecycle_RecordTurn_SkipsBetweenCheckpoints(t *testing.T) {
	f := newLifecycleFixture("likes tea")
	out := f.lifecycle.RecordTurn(context.Background(), newPartition(), uuid.New(), transcriptWithUserMessages(5))
	assert.Zero(t, out.Extracted)
	assert.Zero(t, f.summarizer.calls)
}

func TestLifecycle_RecordTurn_CapsInsights(t *testing.T) {
	f := newLifecycleFixture("a", "b", "c", "d", "e")
	out := f.lifecycle.RecordTurn(context.Background(), newPartition(), uuid.New(), transcriptWithUserMessages(10))
	assert.Equal(t, 3, out.Extracted)
}

func TestLifecycle_RecordTurn_CrossingTriggersSummarizationOnce(t *testing.T) {
	f := newLifecycleFixture("likes tea")
	p := newPartition()
	f.repo.setCount(p, 9)

	out := f.lifecycle.RecordTurn(context.Background(), p, uuid.New(), transcriptWithUserMessages(10))
	assert.Equal(t, 1, out.Extracted)
	assert.True(t, out.SummarizationScheduled)
	assert.Equal(t, 1, f.scheduler.count())

	count, _ := f.repo.UpdateCount(context.Background(), p)
	assert.Equal(t, int64(10), count)
}

func TestLifecycle_RecordTurn_MultiInsightCrossingSchedulesOnce(t *testing.T) {
	f := newLifecycleFixture("a", "b", "c")
	p := newPartition()
	f.repo.setCount(p, 8)

	out := f.lifecycle.RecordTurn(context.Background(), p, uuid.New(), transcriptWithUserMessages(10))
	assert.Equal(t, 3, out.Extracted)
	assert.True(t, out.SummarizationScheduled)
	assert.Equal(t, 1, f.scheduler.count())
}

func TestLifecycle_RecordTurn_NoCrossingNoSchedule(t *testing.T) {
	f := newLifecycleFixture("a", "b")
	p := newPartition()
	f.repo.setCount(p, 3)

	out := f.lifecycle.RecordTurn(context.Background(), p, uuid.New(), transcriptWithUserMessages(1))
	assert.Equal(t, 2, out.Extracted)
	assert.False(t, out.SummarizationScheduled)
	assert.Zero(t, f.scheduler.count())
}

func TestLifecycle_RecordTurn_ConcurrentWritersCrossOnce(t *testing.T) {
	f := newLifecycleFixture("insight")
	p := newPartition()
	f.repo.setCount(p, 5)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.lifecycle.RecordTurn(context.Background(), p, uuid.New(), transcriptWithUserMessages(1))
		}()
	}
	wg.Wait()

	// Counter goes 6..15 and crosses 10 exactly once.
	assert.Equal(t, 1, f.scheduler.count())
}

func TestLifecycle_RecordTurn_ExtractionFailureIsSwallowed(t *testing.T) {
	f := newLifecycleFixture()
	f.summarizer.extractErr = errors.New("model down")

	out := f.lifecycle.RecordTurn(context.Background(), newPartition(), uuid.New(), transcriptWithUserMessages(1))
	assert.Zero(t, out.Extracted)
	assert.False(t, out.SummarizationScheduled)
}

func TestLifecycle_RecordTurn_EmbeddingFailureSkipsInsight(t *testing.T) {
	f := newLifecycleFixture("a", "b")
	f.embedder.err = errors.New("quota")
	p := newPartition()

	out := f.lifecycle.RecordTurn(context.Background(), p, uuid.New(), transcriptWithUserMessages(1))
	assert.Zero(t, out.Extracted)
	assert.Empty(t, f.repo.partition(p))
}

func TestLifecycle_RecordTurn_WrongDimensionSkipsInsight(t *testing.T) {
	f := newLifecycleFixture("bad", "good")
	f.embedder.vectors = map[string][]float32{"bad": {1, 0, 0}}
	p := newPartition()

	out := f.lifecycle.RecordTurn(context.Background(), p, uuid.New(), transcriptWithUserMessages(1))
	assert.Equal(t, 1, out.Extracted)
	stored := f.repo.partition(p)
	require.Len(t, stored, 1)
	assert.Equal(t, "good", stored[0].KeyPoint)
}

func TestLifecycle_RecordTurn_SchedulerFailureLogged(t *testing.T) {
	f := newLifecycleFixture("a")
	f.scheduler.err = errors.New("queue full")
	p := newPartition()
	f.repo.setCount(p, 9)

	out := f.lifecycle.RecordTurn(context.Background(), p, uuid.New(), transcriptWithUserMessages(10))
	assert.Equal(t, 1, out.Extracted)
	assert.False(t, out.SummarizationScheduled)
}
