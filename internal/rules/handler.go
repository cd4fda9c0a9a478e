package rules

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aiox-platform/mnemo/internal/api"
)

// Settings is the storage the rules handler needs.
type Settings interface {
	SystemRules(ctx context.Context) (any, error)
	Set(ctx context.Context, key string, value any) error
}

// Handler exposes the platform behavior rules over HTTP.
type Handler struct {
	settings Settings
}

// NewHandler creates a new rules handler.
func NewHandler(settings Settings) *Handler {
	return &Handler{settings: settings}
}

type rulesResponse struct {
	Rules []string `json:"rules"`
}

// Get returns the normalized system rules.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	raw, err := h.settings.SystemRules(r.Context())
	if err != nil {
		slog.Error("reading system rules", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, rulesResponse{Rules: Parse(raw)})
}

// Put replaces the system rules. Any accepted shape may be sent; it is stored
// normalized as {"rules": [...]}.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	parsed := Parse(raw)
	if err := h.settings.Set(r.Context(), BehaviorRulesKey, map[string]any{"rules": parsed}); err != nil {
		slog.Error("saving system rules", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, rulesResponse{Rules: parsed})
}
