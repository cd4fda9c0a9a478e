// Package prompt assembles the ordered message list sent to the completion model.
package prompt

import (
	"strconv"
	"strings"

	"github.com/aiox-platform/mnemo/internal/rules"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	// SystemRulesHeader heads platform-wide rules. Agent configuration cannot remove them.
	SystemRulesHeader = "Required system rules (always follow these):"
	// AgentRulesHeader heads the agent's own behavior rules.
	AgentRulesHeader = "Agent behavior rules:"
	// MemoryHeader heads the retrieved memory context.
	MemoryHeader = "Relevant things you remember about this user:"
)

// Message is one role-tagged entry of the assembled context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input carries everything Assemble composes.
type Input struct {
	History      []Message
	SystemPrompt string
	SystemRules  []string
	AgentRules   []string
	Memories     []string
	UserMessage  string
}

// Assemble builds the message list in a fixed order: system prompt, system rules,
// agent rules, memory context, history, then the new user message. Empty parts are
// skipped and a system message whose exact text is already present is moved into
// place rather than added twice.
func Assemble(in Input) []Message {
	msgs := make([]Message, 0, len(in.History)+5)
	msgs = append(msgs, in.History...)

	// Insertion point just past the prompt and rules.
	pos := 0

	if prompt := strings.TrimSpace(in.SystemPrompt); prompt != "" {
		msgs, pos = insertSystem(msgs, 0, prompt)
	}
	if text := rules.Format(SystemRulesHeader, in.SystemRules); text != "" {
		msgs, pos = insertSystem(msgs, pos, text)
	}
	if text := rules.Format(AgentRulesHeader, in.AgentRules); text != "" {
		msgs, pos = insertSystem(msgs, pos, text)
	}
	if text := FormatMemories(in.Memories); text != "" {
		msgs, _ = insertSystem(msgs, firstNonSystem(msgs), text)
	}

	if in.UserMessage != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: in.UserMessage})
	}
	return msgs
}

// insertSystem places a system message with content at pos. Any other copy of the
// same text is removed, so the message ends up exactly once and in position. It
// returns the new slice and the position after the message.
func insertSystem(msgs []Message, pos int, content string) ([]Message, int) {
	if pos < len(msgs) && msgs[pos].Role == RoleSystem && msgs[pos].Content == content {
		return msgs, pos + 1
	}

	kept := msgs[:0]
	for i, m := range msgs {
		if m.Role == RoleSystem && m.Content == content {
			if i < pos {
				pos--
			}
			continue
		}
		kept = append(kept, m)
	}
	msgs = kept

	msgs = append(msgs, Message{})
	copy(msgs[pos+1:], msgs[pos:])
	msgs[pos] = Message{Role: RoleSystem, Content: content}
	return msgs, pos + 1
}

func firstNonSystem(msgs []Message) int {
	for i, m := range msgs {
		if m.Role != RoleSystem {
			return i
		}
	}
	return len(msgs)
}

// FormatMemories renders memories as a numbered list under MemoryHeader.
func FormatMemories(memories []string) string {
	var b strings.Builder
	n := 0
	for _, m := range memories {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if n == 0 {
			b.WriteString(MemoryHeader)
		}
		n++
		b.WriteByte('\n')
		b.WriteString(strconv.Itoa(n))
		b.WriteString(". ")
		b.WriteString(m)
	}
	return b.String()
}
