package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ShortTermStore keeps recent session transcripts in Redis lists.
type ShortTermStore struct {
	client  *redis.Client
	maxMsgs int
	ttl     time.Duration
}

// NewShortTermStore creates a new short-term transcript store.
func NewShortTermStore(client *redis.Client, maxMsgs int, ttl time.Duration) *ShortTermStore {
	return &ShortTermStore{client: client, maxMsgs: maxMsgs, ttl: ttl}
}

func convKey(p Partition, sessionID uuid.UUID) string {
	return fmt.Sprintf("conv:%s:%s:%s", p.AgentID, p.UserID, sessionID)
}

// countKey holds the session's total user messages, which outlives list trimming.
func countKey(p Partition, sessionID uuid.UUID) string {
	return convKey(p, sessionID) + ":users"
}

// GetRecentMessages returns the last `limit` entries of a session, oldest first.
// A limit of zero or less returns no entries.
func (s *ShortTermStore) GetRecentMessages(ctx context.Context, p Partition, sessionID uuid.UUID, limit int) ([]ConversationEntry, error) {
	if limit <= 0 {
		return []ConversationEntry{}, nil
	}
	key := convKey(p, sessionID)

	vals, err := s.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	entries := make([]ConversationEntry, 0, len(vals))
	for _, v := range vals {
		var entry ConversationEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Transcript returns every retained entry of a session.
func (s *ShortTermStore) Transcript(ctx context.Context, p Partition, sessionID uuid.UUID) ([]ConversationEntry, error) {
	return s.GetRecentMessages(ctx, p, sessionID, s.maxMsgs)
}

// AppendTurn adds entries to the session list, trims it and refreshes the TTL in one pipeline.
func (s *ShortTermStore) AppendTurn(ctx context.Context, p Partition, sessionID uuid.UUID, entries ...ConversationEntry) error {
	if len(entries) == 0 {
		return nil
	}
	key := convKey(p, sessionID)

	values := make([]any, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		values = append(values, string(data))
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.maxMsgs), -1)
	pipe.Expire(ctx, key, s.ttl)
	if n := CountUserMessages(entries); n > 0 {
		ck := countKey(p, sessionID)
		pipe.IncrBy(ctx, ck, int64(n))
		pipe.Expire(ctx, ck, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// UserMessageCount returns how many user messages the session has recorded,
// including ones already trimmed from the list.
func (s *ShortTermStore) UserMessageCount(ctx context.Context, p Partition, sessionID uuid.UUID) (int, error) {
	n, err := s.client.Get(ctx, countKey(p, sessionID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading user message count: %w", err)
	}
	return n, nil
}

// ClearConversation deletes the transcript of a session.
func (s *ShortTermStore) ClearConversation(ctx context.Context, p Partition, sessionID uuid.UUID) error {
	return s.client.Del(ctx, convKey(p, sessionID), countKey(p, sessionID)).Err()
}
