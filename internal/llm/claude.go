package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aiox-platform/mnemo/internal/memory"
	"github.com/aiox-platform/mnemo/internal/prompt"
)

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// messageCreator is the part of the Anthropic client Claude uses.
type messageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Claude completes prompts and derives memory insights with the Anthropic API.
type Claude struct {
	messages  messageCreator
	model     string
	maxTokens int64
}

// NewClaude creates a new Claude adapter.
func NewClaude(apiKey, model string, maxTokens int) *Claude {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Claude{
		messages:  &client.Messages,
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

// Complete sends the assembled messages and returns the raw reply text. System
// messages are passed as system blocks in their original order.
func (c *Claude) Complete(ctx context.Context, msgs []prompt.Message) (string, error) {
	var system []anthropic.TextBlockParam
	var conversation []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case prompt.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case prompt.RoleAssistant:
			conversation = append(conversation, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return c.send(ctx, system, conversation, c.maxTokens)
}

func (c *Claude) send(ctx context.Context, system []anthropic.TextBlockParam, conversation []anthropic.MessageParam, maxTokens int64) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return text.String(), nil
}

const insightSystemPrompt = `You maintain long-term memory for an assistant.
Read the conversation and list the most important durable facts about the user
(preferences, goals, background, commitments). Each fact must be one short sentence
under 200 characters. Reply with a JSON array of strings only. Reply [] if nothing
is worth remembering.`

const compressSystemPrompt = `You compress related memory notes about one user into a
single note. Keep every distinct fact, drop repetition, and stay under 200 characters.
Reply with the note text only.`

// ExtractInsights asks the model for up to max durable facts from the transcript.
func (c *Claude) ExtractInsights(ctx context.Context, transcript []memory.ConversationEntry, max int) ([]string, error) {
	var b strings.Builder
	for _, e := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	fmt.Fprintf(&b, "\nReturn at most %d facts.", max)

	reply, err := c.send(ctx,
		[]anthropic.TextBlockParam{{Text: insightSystemPrompt}},
		[]anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(b.String()))},
		512,
	)
	if err != nil {
		return nil, fmt.Errorf("extracting insights: %w", err)
	}

	insights := ParseInsights(reply)
	if len(insights) > max {
		insights = insights[:max]
	}
	return insights, nil
}

// Compress merges key points into one note.
func (c *Claude) Compress(ctx context.Context, keyPoints []string) (string, error) {
	var b strings.Builder
	for i, kp := range keyPoints {
		fmt.Fprintf(&b, "%d. %s\n", i+1, kp)
	}

	reply, err := c.send(ctx,
		[]anthropic.TextBlockParam{{Text: compressSystemPrompt}},
		[]anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(b.String()))},
		256,
	)
	if err != nil {
		return "", fmt.Errorf("compressing memories: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// ParseInsights reads a JSON string array from reply, falling back to one insight
// per non-empty line with list markers removed.
func ParseInsights(reply string) []string {
	if start, end := strings.Index(reply, "["), strings.LastIndex(reply, "]"); start >= 0 && end > start {
		var items []string
		if err := json.Unmarshal([]byte(reply[start:end+1]), &items); err == nil {
			return compact(items)
		}
	}

	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		if i := strings.IndexAny(line, ".)"); i > 0 && i <= 3 && isDigits(line[:i]) {
			line = line[i+1:]
		}
		out = append(out, line)
	}
	return compact(out)
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
