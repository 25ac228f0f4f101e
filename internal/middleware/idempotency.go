package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader carries the client supplied replay key.
	IdempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	idempotencyTimeout   = 2 * time.Second
)

// outcomeUnknown is implemented by errors returned after a side effect may
// already have been applied.
type outcomeUnknown interface {
	OutcomeUnknown() bool
}

func isOutcomeUnknown(err error) bool {
	var ou outcomeUnknown
	return errors.As(err, &ou) && ou.OutcomeUnknown()
}

type storedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key. Requests without the header are processed normally.
// Keys are scoped to the authenticated user. Failed requests release their
// key so the client can retry, except when the error reports an unknown
// outcome: that response is stored and replayed like a success.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(IdempotencyKeyHeader))
		if key == "" || cache == nil {
			return c.Next()
		}

		cacheKey := idempotencyPrefix
		if id, ok := CurrentIdentity(c); ok {
			cacheKey += id.Username + ":"
		}
		cacheKey += key
		log := logger.With(zap.String("idempotency_key", key))

		ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
		defer cancel()

		cached, err := cache.Get(ctx, cacheKey).Result()
		if err == nil {
			if cached == inProgressMarker {
				return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
			}

			var stored storedResponse
			if err := json.Unmarshal([]byte(cached), &stored); err != nil {
				log.Warn("failed to decode stored idempotent response", zap.Error(err))
				return fiber.NewError(fiber.StatusConflict, "duplicate request")
			}

			for header, value := range stored.Headers {
				if strings.EqualFold(header, fiber.HeaderContentLength) {
					continue
				}
				c.Set(header, value)
			}
			c.Set(replayedHeader, "true")
			return c.Status(stored.Status).SendString(stored.Body)
		}

		if err != redis.Nil {
			log.Error("idempotency lookup failed", zap.Error(err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			log.Error("idempotency reservation failed", zap.Error(err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		release := func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
			defer cancel()
			cache.Del(cleanupCtx, cacheKey) // best effort
		}

		if err := c.Next(); err != nil {
			if !isOutcomeUnknown(err) {
				release()
				return err
			}
			log.Warn("keeping idempotency key after unknown outcome", zap.Error(err))
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				return herr
			}
		}

		stored := storedResponse{
			Status:  c.Response().StatusCode(),
			Body:    string(c.Response().Body()),
			Headers: map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Headers[string(k)] = string(v)
		})

		payload, err := json.Marshal(stored)
		if err != nil {
			// The handler already ran; the in-progress marker blocks repeats
			// until the TTL expires.
			log.Error("failed to encode idempotent response", zap.Error(err))
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), idempotencyTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			log.Error("failed to persist idempotent response", zap.Error(err))
		}
		return nil
	}
}
