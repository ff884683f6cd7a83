package api

import (
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"clinrag/app/agent"
	"clinrag/model"
	"clinrag/store"
	"clinrag/types"
)

// AnalyzeHandler runs the RAG analysis pipeline for POST /api/v1/analyze.
// The history store is optional; without it analyses are simply not
// persisted.
type AnalyzeHandler struct {
	agent        *agent.Agent
	registry     *model.Registry
	historyStore store.DBStorer
}

func NewAnalyzeHandler(ag *agent.Agent, registry *model.Registry, historyStore store.DBStorer) *AnalyzeHandler {
	return &AnalyzeHandler{
		agent:        ag,
		registry:     registry,
		historyStore: historyStore,
	}
}

func (h *AnalyzeHandler) HandleAnalyze(c *fiber.Ctx) error {
	var params types.AnalyzeParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	analysis, err := h.agent.Analyze(c.Context(), params.Text, agent.AnalyzeOptions{
		LLMMode:          params.LLMMode,
		TopK:             params.TopK,
		UseSmallEmbedder: params.UseSmallEmbedder,
	})
	if err != nil {
		return NewError(fiber.StatusInternalServerError, "analysis failed: "+err.Error())
	}

	if params.Persist && h.historyStore != nil {
		embedder, err := h.registry.Get(model.VariantFor(params.UseSmallEmbedder))
		if err != nil {
			// persistence is best effort, the analysis still goes back
			log.Printf("[HISTORY] skipping save, no embedder for persistence: %v", err)
		} else if id, err := h.historyStore.SaveAnalysis(c.Context(), params.Text, analysis, embedder); err != nil {
			log.Printf("[HISTORY] failed to save analysis: %v", err)
		} else {
			c.Set("X-Analysis-Record", strconv.FormatInt(id, 10))
		}
	}

	return c.JSON(analysis)
}
