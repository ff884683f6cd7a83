package api

import (
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"clinrag/app/agent"
	"clinrag/model"
	"clinrag/store"
	"clinrag/types"
)

// ChatHandler answers follow-up questions about an analyzed note. Two
// context sources are supported: the analysis carried inline by the
// client (index rebuilt in memory, as in a fresh analysis) or the id of a
// persisted record (evidence searched in Postgres over the stored chunk
// embeddings).
type ChatHandler struct {
	agent        *agent.Agent
	registry     *model.Registry
	historyStore store.DBStorer
}

func NewChatHandler(ag *agent.Agent, registry *model.Registry, historyStore store.DBStorer) *ChatHandler {
	return &ChatHandler{
		agent:        ag,
		registry:     registry,
		historyStore: historyStore,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var params types.ChatParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	if params.RecordID != 0 {
		return h.chatWithRecord(c, params)
	}

	resp, err := h.agent.Chat(c.Context(), params.Question, params.Context, params.ChatHistory, agent.AnalyzeOptions{
		LLMMode: params.LLMMode,
		TopK:    params.TopK,
	})
	if err != nil {
		return NewError(fiber.StatusInternalServerError, "chat failed: "+err.Error())
	}
	return c.JSON(resp)
}

func (h *ChatHandler) chatWithRecord(c *fiber.Ctx, params types.ChatParams) error {
	if h.historyStore == nil {
		return NewError(fiber.StatusServiceUnavailable, "history store is not configured")
	}
	start := time.Now()

	rec, chunks, err := h.historyStore.GetAnalysis(c.Context(), params.RecordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound(params.RecordID, "analysis")
		}
		return err
	}

	// the question must be embedded with the same variant the record's
	// chunk vectors were stored with, or the pgvector comparison cannot run
	if rec.EmbeddingVariant == "" {
		return NewError(fiber.StatusConflict, "analysis record has no stored chunk embeddings to search")
	}
	embedder, err := h.registry.Get(model.Variant(rec.EmbeddingVariant))
	if err != nil {
		return NewError(fiber.StatusInternalServerError,
			"embedding variant of stored record is not available: "+err.Error())
	}
	qVec, err := embedder.Embed(c.Context(), params.Question)
	if err != nil {
		return NewError(fiber.StatusInternalServerError, "failed to embed question: "+err.Error())
	}

	topK := params.TopK
	if topK <= 0 {
		topK = agent.DefaultChatTopK
	}
	retrieved, err := h.historyStore.SearchChunks(c.Context(), params.RecordID, qVec, topK)
	if err != nil {
		return NewError(fiber.StatusInternalServerError, "failed to search stored chunks: "+err.Error())
	}

	analysis := &types.Analysis{
		SOAP:      rec.SOAP,
		Facts:     rec.Facts,
		DDx:       rec.DDx,
		AllChunks: chunks,
	}
	resp := h.agent.AnswerWithEvidence(c.Context(), params.Question, analysis, retrieved, params.ChatHistory, params.LLMMode)
	resp.ProcessingTime = time.Since(start).Seconds()
	return c.JSON(resp)
}
