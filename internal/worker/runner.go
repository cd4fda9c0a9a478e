// Package worker runs memory summarization outside the request that triggered it,
// either in-process or through a NATS JetStream job queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aiox-platform/mnemo/internal/memory"
	"github.com/aiox-platform/mnemo/internal/metrics"
)

// Summarizer compresses one partition's memories.
type Summarizer interface {
	Summarize(ctx context.Context, p memory.Partition) (memory.SummaryReport, error)
}

// Runner executes summarization jobs on detached goroutines, bounded by a job
// timeout and a concurrency limit.
type Runner struct {
	summarizer Summarizer
	timeout    time.Duration
	slots      chan struct{}
	wg         sync.WaitGroup
}

// NewRunner creates a new Runner.
func NewRunner(summarizer Summarizer, timeout time.Duration, maxConcurrent int) *Runner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Runner{
		summarizer: summarizer,
		timeout:    timeout,
		slots:      make(chan struct{}, maxConcurrent),
	}
}

// Schedule starts summarization of p in the background and returns at once. The
// job ignores cancellation of ctx; only the runner's own timeout stops it.
func (r *Runner) Schedule(_ context.Context, p memory.Partition) error {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		jobCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.Run(jobCtx, p); err != nil && !memory.IsLocked(err) {
			slog.Error("worker: summarization failed", "error", err,
				"agent_id", p.AgentID, "user_id", p.UserID)
		}
	}()
	return nil
}

// Run summarizes p on the caller's goroutine once a slot is free. A panic in the
// job is recovered and returned as an error.
func (r *Runner) Run(ctx context.Context, p memory.Partition) (err error) {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for summarization slot: %w", ctx.Err())
	}
	defer func() { <-r.slots }()

	metrics.SummarizationJobsInFlight.Inc()
	defer metrics.SummarizationJobsInFlight.Dec()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("summarization panicked: %v", rec)
		}
	}()

	started := time.Now()
	report, err := r.summarizer.Summarize(ctx, p)
	slog.Debug("worker: summarization job done",
		"agent_id", p.AgentID, "user_id", p.UserID,
		"replaced", report.Replaced, "duration", time.Since(started))
	return err
}

// Wait blocks until scheduled jobs finish or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
