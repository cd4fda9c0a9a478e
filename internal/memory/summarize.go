package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aiox-platform/mnemo/internal/metrics"
	"github.com/aiox-platform/mnemo/internal/similarity"
)

// SummaryReport describes one summarization run.
type SummaryReport struct {
	Considered int `json:"considered"`
	Clusters   int `json:"clusters"`
	Replaced   int `json:"replaced"`
	Failed     int `json:"failed"`
}

// Cluster groups memories by similarity. Records are ordered by (CreatedAt, ID);
// each unassigned record seeds a cluster and absorbs later unassigned records whose
// cosine similarity to the seed is >= threshold, until the cluster holds maxSize
// records. The result depends only on the input set.
func Cluster(memories []Memory, threshold float64, maxSize int) [][]Memory {
	sorted := make([]Memory, len(memories))
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	assigned := make([]bool, len(sorted))
	var clusters [][]Memory
	for i := range sorted {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []Memory{sorted[i]}
		for j := i + 1; j < len(sorted) && len(group) < maxSize; j++ {
			if assigned[j] {
				continue
			}
			sim, err := similarity.Cosine(sorted[i].Embedding, sorted[j].Embedding)
			if err != nil || sim < threshold {
				continue
			}
			assigned[j] = true
			group = append(group, sorted[j])
		}
		clusters = append(clusters, group)
	}
	return clusters
}

// Summarize compresses clusters of related memories in the partition. Each cluster
// is replaced in a single transaction, so a failed or repeated run never loses or
// duplicates records. Returns ErrLocked if another run holds the partition.
func (l *Lifecycle) Summarize(ctx context.Context, p Partition) (SummaryReport, error) {
	var report SummaryReport

	if l.locker != nil {
		release, err := l.locker.Acquire(ctx, summarizeLockKey(p), l.opts.LockTTL)
		if err != nil {
			if errors.Is(err, ErrLocked) {
				metrics.SummarizationsTotal.WithLabelValues("locked").Inc()
			}
			return report, err
		}
		defer release()
	}

	records, err := l.repo.ListRecent(ctx, p, l.opts.SummarizationWindow)
	if err != nil {
		metrics.SummarizationsTotal.WithLabelValues("error").Inc()
		return report, fmt.Errorf("loading memories to summarize: %w", err)
	}
	report.Considered = len(records)

	var errs []error
	for _, cluster := range Cluster(records, l.opts.ClusterThreshold, l.opts.MaxClusterSize) {
		if len(cluster) < 2 {
			continue
		}
		report.Clusters++
		if err := l.compressCluster(ctx, p, cluster); err != nil {
			report.Failed++
			errs = append(errs, err)
			slog.Warn("memory: compressing cluster failed", "error", err,
				"agent_id", p.AgentID, "user_id", p.UserID, "size", len(cluster))
			continue
		}
		report.Replaced += len(cluster)
	}

	status := "ok"
	if len(errs) > 0 {
		status = "partial"
	}
	metrics.SummarizationsTotal.WithLabelValues(status).Inc()

	slog.Info("memory: summarization finished",
		"agent_id", p.AgentID, "user_id", p.UserID,
		"considered", report.Considered, "clusters", report.Clusters,
		"replaced", report.Replaced, "failed", report.Failed)

	return report, errors.Join(errs...)
}

func (l *Lifecycle) compressCluster(ctx context.Context, p Partition, cluster []Memory) error {
	keyPoints := make([]string, len(cluster))
	ids := make([]int64, len(cluster))
	for i, m := range cluster {
		keyPoints[i] = m.KeyPoint
		ids[i] = m.ID
	}

	summary, err := l.summarizer.Compress(ctx, keyPoints)
	if err != nil {
		return fmt.Errorf("compressing: %w", err)
	}
	summary = truncateRunes(summary, KeyPointMaxRunes)
	if summary == "" {
		return fmt.Errorf("compressing: empty summary")
	}

	embedCtx, cancel := context.WithTimeout(ctx, l.opts.EmbedTimeout)
	vec, err := l.embedder.Embed(embedCtx, summary)
	cancel()
	if err != nil {
		return fmt.Errorf("embedding summary: %w", err)
	}
	if err := l.store.checkDimension(vec); err != nil {
		return fmt.Errorf("embedding summary: %w", err)
	}

	memCtx, _ := json.Marshal(map[string]any{
		"source":     "summarization",
		"source_ids": ids,
	})
	replacement := &Memory{KeyPoint: summary, Context: memCtx, Embedding: vec}

	if err := l.repo.ReplaceCluster(ctx, p, ids, []*Memory{replacement}); err != nil {
		return fmt.Errorf("replacing cluster: %w", err)
	}
	metrics.MemoriesWrittenTotal.WithLabelValues("summarization").Inc()
	return nil
}
