package api

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"

	"clinrag/loader"
	"clinrag/types"
)

// FileHandler accepts an uploaded PDF and returns its extracted text, the
// boundary before a note enters the analysis pipeline.
type FileHandler struct {
	extractor *loader.Extractor
}

func NewFileHandler(extractor *loader.Extractor) *FileHandler {
	return &FileHandler{extractor: extractor}
}

func (h *FileHandler) HandleExtract(c *fiber.Ctx) error {
	start := time.Now()

	file, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	path := filepath.Join(os.TempDir(), file.Filename)
	if err := c.SaveFile(file, path); err != nil {
		return err
	}
	defer os.Remove(path)

	text, err := h.extractor.ExtractText(c.Context(), path)
	if err != nil {
		// extraction failures are reported in-band so the UI can show them
		return c.JSON(types.ExtractResponse{
			Success:        false,
			Error:          err.Error(),
			ProcessingTime: time.Since(start).Seconds(),
		})
	}

	return c.JSON(types.ExtractResponse{
		Text:           text,
		Success:        true,
		ProcessingTime: time.Since(start).Seconds(),
	})
}
