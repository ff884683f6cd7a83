package api

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"clinrag/store"
)

// HistoryHandler serves the persisted-analysis dashboard endpoints.
type HistoryHandler struct {
	historyStore store.DBStorer
}

func NewHistoryHandler(historyStore store.DBStorer) *HistoryHandler {
	return &HistoryHandler{historyStore: historyStore}
}

func (h *HistoryHandler) HandleList(c *fiber.Ctx) error {
	skip := c.QueryInt("skip", 0)
	limit := c.QueryInt("limit", 20)

	page, err := h.historyStore.ListAnalyses(c.Context(), skip, limit)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *HistoryHandler) HandleStats(c *fiber.Ctx) error {
	stats, err := h.historyStore.Stats(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (h *HistoryHandler) HandleGet(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return ErrInvalidID()
	}

	rec, chunks, err := h.historyStore.GetAnalysis(c.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound(id, "analysis")
		}
		return err
	}
	return c.JSON(fiber.Map{
		"record": rec,
		"chunks": chunks,
	})
}

func (h *HistoryHandler) HandleDelete(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return ErrInvalidID()
	}

	if err := h.historyStore.DeleteAnalysis(c.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound(id, "analysis")
		}
		return err
	}
	return c.JSON(fiber.Map{"message": "analysis deleted", "id": id})
}
