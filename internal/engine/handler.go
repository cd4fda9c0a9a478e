package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aiox-platform/mnemo/internal/api"
	"github.com/aiox-platform/mnemo/internal/extract"
	"github.com/aiox-platform/mnemo/internal/memory"
	"github.com/aiox-platform/mnemo/internal/prompt"
)

// Handler exposes context retrieval and full turns over HTTP.
type Handler struct {
	engine   *Engine
	validate *validator.Validate
}

// NewHandler creates a new engine handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine, validate: validator.New()}
}

type turnBody struct {
	SessionID    uuid.UUID        `json:"session_id"`
	MessageID    uuid.UUID        `json:"message_id"`
	History      []prompt.Message `json:"history" validate:"omitempty,max=200,dive"`
	Message      string           `json:"message" validate:"required,max=20000"`
	SystemPrompt string           `json:"system_prompt" validate:"max=50000"`
	AgentRules   json.RawMessage  `json:"agent_rules"`
	MemoryConfig json.RawMessage  `json:"memory_config"`
}

type contextResponse struct {
	Messages []prompt.Message `json:"messages"`
}

type respondResponse struct {
	MessageID  uuid.UUID          `json:"message_id"`
	Text       string             `json:"text"`
	Extraction extract.Result     `json:"extraction"`
	Turn       memory.TurnOutcome `json:"turn"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (ContextRequest, bool) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid agent ID"))
		return ContextRequest{}, false
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user ID"))
		return ContextRequest{}, false
	}

	var body turnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return ContextRequest{}, false
	}
	if err := h.validate.Struct(body); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return ContextRequest{}, false
	}

	req := ContextRequest{
		Partition:    memory.Partition{AgentID: agentID, UserID: userID},
		SessionID:    body.SessionID,
		MessageID:    body.MessageID,
		History:      body.History,
		UserMessage:  body.Message,
		SystemPrompt: body.SystemPrompt,
		MemoryConfig: body.MemoryConfig,
	}
	if len(body.AgentRules) > 0 {
		req.AgentRules = body.AgentRules
	}
	return req, true
}

// PreviewContext returns the assembled messages without calling the model.
func (h *Handler) PreviewContext(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	msgs, err := h.engine.RetrieveContext(r.Context(), req)
	if err != nil {
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}
	api.JSON(w, http.StatusOK, contextResponse{Messages: msgs})
}

// Respond runs a full turn against the completion model.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	if h.engine.deps.Completer == nil {
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	reply, err := h.engine.Respond(r.Context(), req)
	if err != nil {
		slog.Error("engine: respond failed", "error", err,
			"agent_id", req.Partition.AgentID, "user_id", req.Partition.UserID)
		api.HandleError(w, api.ErrBadGateway)
		return
	}
	api.JSON(w, http.StatusOK, respondResponse{
		MessageID:  reply.MessageID,
		Text:       reply.Text,
		Extraction: reply.Extraction,
		Turn:       reply.Turn,
	})
}
