package memory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aiox-platform/mnemo/internal/api"
	"github.com/aiox-platform/mnemo/internal/similarity"
)

// Handler handles memory admin HTTP endpoints.
type Handler struct {
	store    *Store
	embedder Embedder
	validate *validator.Validate
}

// NewHandler creates a new memory handler. embedder may be nil, in which case
// requests must carry their own embeddings.
func NewHandler(store *Store, embedder Embedder) *Handler {
	return &Handler{
		store:    store,
		embedder: embedder,
		validate: validator.New(),
	}
}

func partitionFromRequest(r *http.Request) (Partition, error) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		return Partition{}, api.NewBadRequestError("invalid agent ID")
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		return Partition{}, api.NewBadRequestError("invalid user ID")
	}
	return Partition{AgentID: agentID, UserID: userID}, nil
}

// List returns paginated memories for a partition.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, err := partitionFromRequest(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	page := 1
	pageSize := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 && v <= 100 {
		pageSize = v
	}

	memories, totalCount, err := h.store.List(r.Context(), p, page, pageSize)
	if err != nil {
		slog.Error("listing memories", "error", err, "agent_id", p.AgentID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, memories, totalCount, page, pageSize)
}

// createBody accepts either a ready embedding or text to embed server-side.
type createBody struct {
	CreateMemoryRequest
	EmbedKeyPoint bool `json:"embed_key_point"`
}

// Create creates a new memory in a partition.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := partitionFromRequest(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	req := body.CreateMemoryRequest

	if body.EmbedKeyPoint && len(req.Embedding) == 0 && h.embedder != nil {
		vec, err := h.embedder.Embed(r.Context(), req.KeyPoint)
		if err != nil {
			slog.Warn("memory: embedding key point failed", "error", err, "agent_id", p.AgentID)
			api.HandleError(w, api.ErrServiceUnavailable)
			return
		}
		req.Embedding = vec
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	mem, err := h.store.Create(r.Context(), p, req.KeyPoint, req.Context, req.Embedding)
	if err != nil {
		if errors.Is(err, ErrMissingEmbedding) || errors.Is(err, similarity.ErrDimensionMismatch) {
			api.HandleError(w, api.NewValidationError(err.Error()))
			return
		}
		slog.Error("creating memory", "error", err, "agent_id", p.AgentID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	mem.Embedding = nil
	api.JSON(w, http.StatusCreated, mem)
}

// Search performs a similarity search within a partition.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	p, err := partitionFromRequest(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var req SearchMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	results, err := h.store.Search(r.Context(), p, &req)
	if err != nil {
		if IsUnavailable(err) {
			slog.Warn("memory: search unavailable", "error", err, "agent_id", p.AgentID)
			api.HandleError(w, api.ErrServiceUnavailable)
			return
		}
		slog.Error("searching memories", "error", err, "agent_id", p.AgentID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if results == nil {
		results = []SearchResult{}
	}

	api.JSON(w, http.StatusOK, results)
}

// Delete deletes a single memory.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := partitionFromRequest(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	memoryID, err := strconv.ParseInt(chi.URLParam(r, "memoryID"), 10, 64)
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid memory ID"))
		return
	}

	if err := h.store.Delete(r.Context(), p, memoryID); err != nil {
		if errors.Is(err, ErrNotFound) {
			api.HandleError(w, api.NewNotFoundError("memory not found"))
			return
		}
		slog.Error("deleting memory", "error", err, "agent_id", p.AgentID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "memory deleted successfully")
}

// DeleteAll deletes all memories of a partition and resets its counter.
func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	p, err := partitionFromRequest(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if err := h.store.DeleteAll(r.Context(), p); err != nil {
		slog.Error("deleting all memories", "error", err, "agent_id", p.AgentID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "all memories deleted successfully")
}
