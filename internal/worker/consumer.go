package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/aiox-platform/mnemo/internal/memory"
	inats "github.com/aiox-platform/mnemo/internal/nats"
)

const consumerName = "summarizer"

// retryDelay is how long a failed job waits before redelivery.
const retryDelay = 30 * time.Second

// SummaryConsumer pulls summarization jobs from JetStream and runs them.
type SummaryConsumer struct {
	consumerMgr *inats.ConsumerManager
	runner      *Runner
}

// NewSummaryConsumer creates a new SummaryConsumer.
func NewSummaryConsumer(consumerMgr *inats.ConsumerManager, runner *Runner) *SummaryConsumer {
	return &SummaryConsumer{consumerMgr: consumerMgr, runner: runner}
}

// Start consumes jobs until ctx is done.
func (c *SummaryConsumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamJobs, consumerName,
		inats.SubjectSummarize, c.runner.timeout+30*time.Second)
	if err != nil {
		return err
	}

	slog.Info("summary consumer started", "timeout", c.runner.timeout)

	for {
		msgs, err := consumer.Fetch(cap(c.runner.slots), jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("summary consumer: fetching jobs", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handle(msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle runs one job. Jobs run detached from the consumer's context so shutdown
// does not abort a replacement half way; the runner timeout bounds them.
func (c *SummaryConsumer) handle(msg jetstream.Msg) {
	var job inats.SummarizeJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		slog.Error("summary consumer: unmarshaling job", "error", err)
		_ = msg.Term()
		return
	}
	p := memory.Partition{AgentID: job.AgentID, UserID: job.UserID}

	ctx, cancel := context.WithTimeout(context.Background(), c.runner.timeout)
	defer cancel()

	err := c.runner.Run(ctx, p)
	switch {
	case err == nil, memory.IsLocked(err):
		// A locked partition is already being summarized by another worker.
		_ = msg.Ack()
	default:
		slog.Error("summary consumer: job failed", "error", err,
			"job_id", job.JobID, "agent_id", p.AgentID, "user_id", p.UserID)
		_ = msg.NakWithDelay(retryDelay)
	}
}
