package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// PlugRequestLog logs every request with method, path, status and
// duration. Analyses can take tens of seconds against a real model, so
// the duration is the number worth watching.
func PlugRequestLog(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		logger.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration", time.Since(start).String(),
		)
		return err
	}
}
