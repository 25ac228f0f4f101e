package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Audit emits one structured log line per request.
func Audit(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		// Render the error now so the logged status is the one sent.
		if err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		status := c.Response().StatusCode()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if requestID := CurrentRequestID(c); requestID != "" {
			fields = append(fields, zap.String("request_id", requestID))
		}
		if id, ok := CurrentIdentity(c); ok {
			fields = append(fields, zap.String("username", id.Username))
		}

		switch {
		case err != nil && status >= fiber.StatusInternalServerError:
			logger.Error("request completed", append(fields, zap.Error(err))...)
		case err != nil:
			logger.Info("request completed", append(fields, zap.String("error", err.Error()))...)
		default:
			logger.Info("request completed", fields...)
		}
		return nil
	}
}
