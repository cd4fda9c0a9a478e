package memory

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// KeyPointMaxRunes bounds the length of a stored insight.
const KeyPointMaxRunes = 200

var (
	// ErrMissingEmbedding is returned when a memory is created without its vector.
	ErrMissingEmbedding = errors.New("memory: embedding is required")
	// ErrRetrievalUnavailable means both the native and in-process search paths failed.
	ErrRetrievalUnavailable = errors.New("memory: retrieval unavailable")
	// ErrNotFound is returned when a memory does not exist in the partition.
	ErrNotFound = errors.New("memory: not found")
	// ErrLocked is returned when another summarization holds the partition.
	ErrLocked = errors.New("memory: partition locked")
)

// Partition scopes memories and the update counter to one agent/user pairing.
type Partition struct {
	AgentID uuid.UUID `json:"agent_id"`
	UserID  uuid.UUID `json:"user_id"`
}

// Memory represents a row in the agent_memories table.
type Memory struct {
	ID          int64           `json:"id"`
	AgentID     uuid.UUID       `json:"agent_id"`
	UserID      uuid.UUID       `json:"user_id"`
	KeyPoint    string          `json:"key_point"`
	Context     json.RawMessage `json:"context"`
	Embedding   []float32       `json:"embedding,omitempty"`
	UpdateCount int64           `json:"update_count"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Partition returns the partition the memory belongs to.
func (m *Memory) Partition() Partition {
	return Partition{AgentID: m.AgentID, UserID: m.UserID}
}

// SearchResult wraps a Memory with its similarity score.
type SearchResult struct {
	Memory     Memory  `json:"memory"`
	Similarity float64 `json:"similarity"`
}

// CreateMemoryRequest is used by the API to create a new memory.
type CreateMemoryRequest struct {
	KeyPoint  string          `json:"key_point" validate:"required,min=1,max=800"`
	Embedding []float32       `json:"embedding" validate:"required,min=1"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// SearchMemoryRequest is used by the API to search memories by embedding similarity.
type SearchMemoryRequest struct {
	Embedding []float32 `json:"embedding" validate:"required,min=1"`
	Limit     int       `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
	Threshold float64   `json:"threshold,omitempty" validate:"omitempty,min=-1,max=1"`
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
