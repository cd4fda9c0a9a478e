package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/mnemo/internal/memory"
	inats "github.com/aiox-platform/mnemo/internal/nats"
)

// JobPublisher enqueues summarization jobs.
type JobPublisher interface {
	PublishSummarizeJob(ctx context.Context, job inats.SummarizeJob) error
}

// NATSScheduler hands summarization to whichever process consumes the job queue.
type NATSScheduler struct {
	publisher JobPublisher
	timeout   time.Duration
}

// NewNATSScheduler creates a new NATSScheduler.
func NewNATSScheduler(publisher JobPublisher) *NATSScheduler {
	return &NATSScheduler{publisher: publisher, timeout: 5 * time.Second}
}

// Schedule publishes a job for p. The publish is detached from ctx so a request
// that ends right after the checkpoint still enqueues it.
func (s *NATSScheduler) Schedule(_ context.Context, p memory.Partition) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.publisher.PublishSummarizeJob(ctx, inats.SummarizeJob{
		JobID:       uuid.New(),
		AgentID:     p.AgentID,
		UserID:      p.UserID,
		RequestedAt: time.Now().UTC(),
	})
}
