package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamJobs holds background memory jobs.
const StreamJobs = "MNEMO_JOBS"

// Subject constants.
const (
	SubjectJobs      = "mnemo.jobs.>"
	SubjectSummarize = "mnemo.jobs.summarize"
)

// SummarizeJob asks a consumer to compress one partition's memories.
type SummarizeJob struct {
	JobID       uuid.UUID `json:"job_id"`
	AgentID     uuid.UUID `json:"agent_id"`
	UserID      uuid.UUID `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}
