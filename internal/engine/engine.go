// Package engine ties memory retrieval, prompt assembly, reply extraction and the
// memory lifecycle into the request-scoped operations a chat handler calls.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aiox-platform/mnemo/internal/extract"
	"github.com/aiox-platform/mnemo/internal/memory"
	"github.com/aiox-platform/mnemo/internal/prompt"
	"github.com/aiox-platform/mnemo/internal/rules"
)

const tracerName = "mnemo.engine"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Completer is the language-model completion call.
type Completer interface {
	Complete(ctx context.Context, msgs []prompt.Message) (string, error)
}

// MemorySearcher finds stored memories similar to a query vector.
type MemorySearcher interface {
	FindSimilar(ctx context.Context, p memory.Partition, query []float32, topK int, threshold float64) ([]memory.SearchResult, error)
}

// HistoryStore holds the short-term session transcript.
type HistoryStore interface {
	GetRecentMessages(ctx context.Context, p memory.Partition, sessionID uuid.UUID, limit int) ([]memory.ConversationEntry, error)
	Transcript(ctx context.Context, p memory.Partition, sessionID uuid.UUID) ([]memory.ConversationEntry, error)
	AppendTurn(ctx context.Context, p memory.Partition, sessionID uuid.UUID, entries ...memory.ConversationEntry) error
	UserMessageCount(ctx context.Context, p memory.Partition, sessionID uuid.UUID) (int, error)
}

// RuleSource returns the raw platform-wide behavior rules.
type RuleSource interface {
	SystemRules(ctx context.Context) (any, error)
}

// TurnRecorder runs the memory lifecycle checkpoint for a turn.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, p memory.Partition, sessionID uuid.UUID, transcript []memory.ConversationEntry) memory.TurnOutcome
	RecordCheckpoint(ctx context.Context, p memory.Partition, sessionID uuid.UUID, transcript []memory.ConversationEntry, messageCount int) memory.TurnOutcome
}

// TranslationRecorder persists extraction results.
type TranslationRecorder interface {
	Record(ctx context.Context, messageID uuid.UUID, res extract.Result) error
}

// Deps are the collaborators of an Engine. Any of them except Completer may be
// nil, in which case the matching feature is skipped.
type Deps struct {
	Memories     MemorySearcher
	Embedder     memory.Embedder
	History      HistoryStore
	Rules        RuleSource
	Lifecycle    TurnRecorder
	Translations TranslationRecorder
	Completer    Completer
	Defaults     memory.AgentConfig
	EmbedTimeout time.Duration
}

// Engine serves context retrieval and turn recording.
type Engine struct {
	deps Deps
}

// New creates a new Engine.
func New(deps Deps) *Engine {
	if deps.EmbedTimeout <= 0 {
		deps.EmbedTimeout = 3 * time.Second
	}
	return &Engine{deps: deps}
}

// ContextRequest describes one inbound chat message.
type ContextRequest struct {
	Partition memory.Partition
	SessionID uuid.UUID
	// MessageID identifies the reply for translation records. A new id is
	// generated when nil.
	MessageID uuid.UUID
	// History is the prior conversation, oldest first. When nil it is loaded
	// from the short-term store.
	History      []prompt.Message
	UserMessage  string
	SystemPrompt string
	// AgentRules accepts any stored rule shape.
	AgentRules any
	// MemoryConfig is the agent's memory_config JSON, merged over the defaults.
	MemoryConfig json.RawMessage
}

// Reply is the outcome of Respond.
type Reply struct {
	MessageID  uuid.UUID
	Text       string
	Extraction extract.Result
	Messages   []prompt.Message
	Turn       memory.TurnOutcome
}

// RetrieveContext builds the ordered message list for one completion call.
// Memory retrieval runs alongside history and rule loading; a failure in any of
// them degrades the context instead of failing the call. Only cancellation of
// ctx is returned as an error.
func (e *Engine) RetrieveContext(ctx context.Context, req ContextRequest) ([]prompt.Message, error) {
	msgs, _, err := e.retrieve(ctx, req)
	return msgs, err
}

// retrieve is RetrieveContext that also returns the history it assembled from.
func (e *Engine) retrieve(ctx context.Context, req ContextRequest) ([]prompt.Message, []prompt.Message, error) {
	ctx, span := tracer().Start(ctx, "engine.retrieve_context", trace.WithAttributes(
		attribute.String("agent_id", req.Partition.AgentID.String()),
		attribute.String("user_id", req.Partition.UserID.String()),
	))
	defer span.End()

	cfg := memory.ParseConfig(req.MemoryConfig, e.deps.Defaults)

	var (
		wg          sync.WaitGroup
		memories    []string
		history     []prompt.Message
		systemRules []string
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		memories = e.loadMemories(ctx, req, cfg)
	}()
	go func() {
		defer wg.Done()
		history = e.loadHistory(ctx, req, cfg)
	}()
	go func() {
		defer wg.Done()
		systemRules = e.loadSystemRules(ctx)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, nil, err
	}

	msgs := prompt.Assemble(prompt.Input{
		History:      history,
		SystemPrompt: req.SystemPrompt,
		SystemRules:  systemRules,
		AgentRules:   rules.Parse(req.AgentRules),
		Memories:     memories,
		UserMessage:  req.UserMessage,
	})
	span.SetAttributes(
		attribute.Int("memories", len(memories)),
		attribute.Int("history", len(history)),
		attribute.Int("messages", len(msgs)),
	)
	return msgs, history, nil
}

func (e *Engine) loadMemories(ctx context.Context, req ContextRequest, cfg memory.AgentConfig) []string {
	if !cfg.Enabled || !cfg.LongTermEnabled || cfg.TopK <= 0 || e.deps.Memories == nil || e.deps.Embedder == nil {
		return nil
	}
	query := strings.TrimSpace(req.UserMessage)
	if query == "" {
		return nil
	}
	p := req.Partition

	embedCtx, cancel := context.WithTimeout(ctx, e.deps.EmbedTimeout)
	vec, err := e.deps.Embedder.Embed(embedCtx, query)
	cancel()
	if err != nil {
		slog.Warn("engine: embedding query failed, continuing without memories", "error", err,
			"agent_id", p.AgentID, "user_id", p.UserID)
		return nil
	}

	results, err := e.deps.Memories.FindSimilar(ctx, p, vec, cfg.TopK, cfg.SimilarityThreshold)
	if err != nil {
		slog.Warn("engine: memory retrieval failed, continuing without memories", "error", err,
			"agent_id", p.AgentID, "user_id", p.UserID)
		return nil
	}

	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Memory.KeyPoint)
	}
	return out
}

func (e *Engine) loadHistory(ctx context.Context, req ContextRequest, cfg memory.AgentConfig) []prompt.Message {
	if req.History != nil {
		return req.History
	}
	if !cfg.Enabled || !cfg.ShortTermEnabled || cfg.MaxShortTermMsgs <= 0 || e.deps.History == nil || req.SessionID == uuid.Nil {
		return nil
	}
	p := req.Partition

	entries, err := e.deps.History.GetRecentMessages(ctx, p, req.SessionID, cfg.MaxShortTermMsgs)
	if err != nil {
		slog.Warn("engine: loading history failed", "error", err,
			"agent_id", p.AgentID, "user_id", p.UserID, "session_id", req.SessionID)
		return nil
	}
	return toMessages(entries)
}

func (e *Engine) loadSystemRules(ctx context.Context) []string {
	if e.deps.Rules == nil {
		return nil
	}
	raw, err := e.deps.Rules.SystemRules(ctx)
	if err != nil {
		slog.Warn("engine: loading system rules failed", "error", err)
		return nil
	}
	return rules.Parse(raw)
}

// RecordTurn hands a session transcript to the memory lifecycle.
func (e *Engine) RecordTurn(ctx context.Context, p memory.Partition, sessionID uuid.UUID, transcript []memory.ConversationEntry) memory.TurnOutcome {
	if e.deps.Lifecycle == nil {
		return memory.TurnOutcome{MessageCount: memory.CountUserMessages(transcript)}
	}
	ctx, span := tracer().Start(ctx, "engine.record_turn")
	defer span.End()

	out := e.deps.Lifecycle.RecordTurn(ctx, p, sessionID, transcript)
	annotateTurn(span, out)
	return out
}

// ExtractStructuredReply parses the trailing translation payload of a reply.
func (e *Engine) ExtractStructuredReply(raw string) extract.Result {
	return extract.Extract(raw)
}

// Respond runs one full turn: assemble context, complete, extract, persist the
// extraction and the turn, then run the lifecycle checkpoint. A completion error
// is returned unmodified; every later failure is logged and skipped.
func (e *Engine) Respond(ctx context.Context, req ContextRequest) (*Reply, error) {
	ctx, span := tracer().Start(ctx, "engine.respond")
	defer span.End()

	msgs, history, err := e.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	raw, err := e.deps.Completer.Complete(ctx, msgs)
	if err != nil {
		span.SetStatus(otelcodes.Error, "completion failed")
		return nil, err
	}

	res := extract.Extract(raw)
	reply := &Reply{
		MessageID:  req.MessageID,
		Text:       res.CleanedText,
		Extraction: res,
		Messages:   msgs,
	}
	if reply.MessageID == uuid.Nil {
		reply.MessageID = uuid.New()
	}
	span.SetAttributes(attribute.String("extraction_level", res.Level.String()))

	p := req.Partition
	if e.deps.Translations != nil {
		if err := e.deps.Translations.Record(ctx, reply.MessageID, res); err != nil {
			slog.Warn("engine: recording translation failed", "error", err,
				"agent_id", p.AgentID, "user_id", p.UserID, "message_id", reply.MessageID)
		}
	}

	cfg := memory.ParseConfig(req.MemoryConfig, e.deps.Defaults)
	now := time.Now().UTC()
	turn := []memory.ConversationEntry{
		{Role: prompt.RoleUser, Content: req.UserMessage, Timestamp: now},
		{Role: prompt.RoleAssistant, Content: res.CleanedText, Timestamp: now},
	}

	useShortTerm := cfg.Enabled && cfg.ShortTermEnabled && e.deps.History != nil && req.SessionID != uuid.Nil
	appended := false
	if useShortTerm {
		if err := e.deps.History.AppendTurn(ctx, p, req.SessionID, turn...); err != nil {
			slog.Warn("engine: appending turn failed", "error", err,
				"agent_id", p.AgentID, "user_id", p.UserID, "session_id", req.SessionID)
		} else {
			appended = true
		}
	}

	if !cfg.Enabled || !cfg.ExtractionEnabled || e.deps.Lifecycle == nil {
		return reply, nil
	}

	switch {
	case appended:
		reply.Turn = e.checkpointFromStore(ctx, req)
	case useShortTerm && req.History == nil:
		// History came from the store but this turn never reached it.
		reply.Turn = e.checkpointUnsaved(ctx, req, history, turn)
	default:
		transcript := append(toEntries(req.History), turn...)
		reply.Turn = e.RecordTurn(ctx, p, req.SessionID, transcript)
	}
	annotateTurn(span, reply.Turn)
	return reply, nil
}

// checkpointFromStore runs the lifecycle on the stored session, whose list may be
// trimmed while its user message count is not.
func (e *Engine) checkpointFromStore(ctx context.Context, req ContextRequest) memory.TurnOutcome {
	p := req.Partition
	transcript, err := e.deps.History.Transcript(ctx, p, req.SessionID)
	if err != nil {
		slog.Warn("engine: loading transcript failed", "error", err,
			"agent_id", p.AgentID, "user_id", p.UserID, "session_id", req.SessionID)
		return memory.TurnOutcome{}
	}
	count, err := e.deps.History.UserMessageCount(ctx, p, req.SessionID)
	if err != nil {
		slog.Warn("engine: reading message count failed, skipping checkpoint", "error", err,
			"agent_id", p.AgentID, "user_id", p.UserID, "session_id", req.SessionID)
		return memory.TurnOutcome{}
	}
	return e.deps.Lifecycle.RecordCheckpoint(ctx, p, req.SessionID, transcript, count)
}

// checkpointUnsaved runs the lifecycle for a turn the store failed to append. The
// stored count plus this turn's user message is the session count; when the count
// cannot be read the checkpoint is skipped.
func (e *Engine) checkpointUnsaved(ctx context.Context, req ContextRequest, history []prompt.Message, turn []memory.ConversationEntry) memory.TurnOutcome {
	p := req.Partition
	count, err := e.deps.History.UserMessageCount(ctx, p, req.SessionID)
	if err != nil {
		slog.Warn("engine: reading message count failed, skipping checkpoint", "error", err,
			"agent_id", p.AgentID, "user_id", p.UserID, "session_id", req.SessionID)
		return memory.TurnOutcome{}
	}
	transcript := append(toEntries(history), turn...)
	return e.deps.Lifecycle.RecordCheckpoint(ctx, p, req.SessionID, transcript, count+memory.CountUserMessages(turn))
}

func annotateTurn(span trace.Span, out memory.TurnOutcome) {
	span.SetAttributes(
		attribute.Int("message_count", out.MessageCount),
		attribute.Int("extracted", out.Extracted),
		attribute.Bool("summarization_scheduled", out.SummarizationScheduled),
	)
}

func toMessages(entries []memory.ConversationEntry) []prompt.Message {
	out := make([]prompt.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, prompt.Message{Role: e.Role, Content: e.Content})
	}
	return out
}

func toEntries(msgs []prompt.Message) []memory.ConversationEntry {
	out := make([]memory.ConversationEntry, 0, len(msgs)+2)
	for _, m := range msgs {
		if m.Role == prompt.RoleSystem {
			continue
		}
		out = append(out, memory.ConversationEntry{Role: m.Role, Content: m.Content})
	}
	return out
}
