package memory

import "time"

// ConversationEntry is a single message in a session transcript.
type ConversationEntry struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CountUserMessages returns the number of user messages in the transcript.
func CountUserMessages(transcript []ConversationEntry) int {
	n := 0
	for _, e := range transcript {
		if e.Role == "user" {
			n++
		}
	}
	return n
}
