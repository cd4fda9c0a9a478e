package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/mnemo/internal/metrics"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer derives insights from transcripts and compresses related insights.
type Summarizer interface {
	ExtractInsights(ctx context.Context, transcript []ConversationEntry, max int) ([]string, error)
	Compress(ctx context.Context, keyPoints []string) (string, error)
}

// Scheduler hands a partition to a background summarization run. Schedule must not
// block on the run itself.
type Scheduler interface {
	Schedule(ctx context.Context, p Partition) error
}

// LifecycleOptions configure extraction and summarization triggers.
type LifecycleOptions struct {
	SaveInterval          int
	SummarizationInterval int
	MaxInsights           int
	TranscriptWindow      int
	EmbedTimeout          time.Duration

	SummarizationWindow int
	ClusterThreshold    float64
	MaxClusterSize      int
	LockTTL             time.Duration
}

func (o *LifecycleOptions) applyDefaults() {
	if o.SaveInterval <= 0 {
		o.SaveInterval = 10
	}
	if o.SummarizationInterval <= 0 {
		o.SummarizationInterval = 10
	}
	if o.MaxInsights <= 0 {
		o.MaxInsights = 3
	}
	if o.TranscriptWindow <= 0 {
		o.TranscriptWindow = 20
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = 3 * time.Second
	}
	if o.SummarizationWindow <= 0 {
		o.SummarizationWindow = 50
	}
	if o.ClusterThreshold == 0 {
		o.ClusterThreshold = 0.8
	}
	if o.MaxClusterSize < 2 {
		o.MaxClusterSize = 5
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 5 * time.Minute
	}
}

// TurnOutcome reports what RecordTurn did.
type TurnOutcome struct {
	MessageCount           int  `json:"message_count"`
	Extracted              int  `json:"extracted"`
	SummarizationScheduled bool `json:"summarization_scheduled"`
}

// Lifecycle decides when to extract new memories and when to compact a partition.
type Lifecycle struct {
	store      *Store
	repo       Repository
	embedder   Embedder
	summarizer Summarizer
	scheduler  Scheduler
	locker     Locker
	opts       LifecycleOptions
}

// NewLifecycle creates a new memory lifecycle. scheduler and locker may be nil.
func NewLifecycle(store *Store, embedder Embedder, summarizer Summarizer, scheduler Scheduler, locker Locker, opts LifecycleOptions) *Lifecycle {
	opts.applyDefaults()
	return &Lifecycle{
		store:      store,
		repo:       store.repo,
		embedder:   embedder,
		summarizer: summarizer,
		scheduler:  scheduler,
		locker:     locker,
		opts:       opts,
	}
}

// SetScheduler replaces the summarization scheduler. Not safe for use while turns are recorded.
func (l *Lifecycle) SetScheduler(s Scheduler) {
	l.scheduler = s
}

// ShouldExtract reports whether a transcript with messageCount user messages is a checkpoint.
func (l *Lifecycle) ShouldExtract(messageCount int) bool {
	return messageCount == 1 || (messageCount > 0 && messageCount%l.opts.SaveInterval == 0)
}

// RecordTurn runs the extraction checkpoint for a session transcript. Every failure
// is logged and skipped; the outcome only reports what succeeded.
func (l *Lifecycle) RecordTurn(ctx context.Context, p Partition, sessionID uuid.UUID, transcript []ConversationEntry) TurnOutcome {
	return l.RecordCheckpoint(ctx, p, sessionID, transcript, CountUserMessages(transcript))
}

// RecordCheckpoint is RecordTurn for callers that keep only a trimmed transcript
// and track the session's user message count separately.
func (l *Lifecycle) RecordCheckpoint(ctx context.Context, p Partition, sessionID uuid.UUID, transcript []ConversationEntry, messageCount int) TurnOutcome {
	out := TurnOutcome{MessageCount: messageCount}
	if !l.ShouldExtract(out.MessageCount) {
		return out
	}

	window := transcript
	if len(window) > l.opts.TranscriptWindow {
		window = window[len(window)-l.opts.TranscriptWindow:]
	}

	insights, err := l.summarizer.ExtractInsights(ctx, window, l.opts.MaxInsights)
	if err != nil {
		slog.Warn("memory: insight extraction failed", "error", err,
			"agent_id", p.AgentID, "user_id", p.UserID, "session_id", sessionID)
		return out
	}
	if len(insights) > l.opts.MaxInsights {
		insights = insights[:l.opts.MaxInsights]
	}

	crossed := false
	for _, insight := range insights {
		mem, err := l.writeInsight(ctx, p, sessionID, insight)
		if err != nil {
			slog.Warn("memory: skipping insight", "error", err,
				"agent_id", p.AgentID, "user_id", p.UserID, "session_id", sessionID)
			continue
		}
		out.Extracted++
		// Each counter value is handed to exactly one writer, so only one
		// writer observes a given multiple.
		if mem.UpdateCount%int64(l.opts.SummarizationInterval) == 0 {
			crossed = true
		}
	}

	if crossed {
		out.SummarizationScheduled = l.schedule(ctx, p)
	}
	return out
}

func (l *Lifecycle) writeInsight(ctx context.Context, p Partition, sessionID uuid.UUID, insight string) (*Memory, error) {
	if insight == "" {
		return nil, fmt.Errorf("empty insight")
	}

	embedCtx, cancel := context.WithTimeout(ctx, l.opts.EmbedTimeout)
	vec, err := l.embedder.Embed(embedCtx, insight)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("embedding insight: %w", err)
	}

	memCtx, _ := json.Marshal(map[string]any{
		"source":       "extraction",
		"session_id":   sessionID,
		"extracted_at": time.Now().UTC(),
	})

	mem, err := l.store.Create(ctx, p, insight, memCtx, vec)
	if err != nil {
		return nil, fmt.Errorf("storing insight: %w", err)
	}
	metrics.MemoriesWrittenTotal.WithLabelValues("extraction").Inc()
	return mem, nil
}

func (l *Lifecycle) schedule(ctx context.Context, p Partition) bool {
	if l.scheduler == nil {
		slog.Warn("memory: summarization due but no scheduler configured",
			"agent_id", p.AgentID, "user_id", p.UserID)
		return false
	}
	if err := l.scheduler.Schedule(ctx, p); err != nil {
		slog.Error("memory: scheduling summarization failed", "error", err,
			"agent_id", p.AgentID, "user_id", p.UserID)
		return false
	}
	return true
}
