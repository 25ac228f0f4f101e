package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	requestIDHeader    = "X-Request-ID"
	requestIDLocalsKey = "request.id"
	maxRequestIDLength = 128
)

// RequestID tags each request with an identifier, reusing a client-supplied
// X-Request-ID when it is reasonably sized, and echoes it on the response.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" || len(reqID) > maxRequestIDLength {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDLocalsKey, reqID)
		return c.Next()
	}
}

// CurrentRequestID returns the identifier assigned by RequestID.
func CurrentRequestID(c *fiber.Ctx) string {
	reqID, _ := c.Locals(requestIDLocalsKey).(string)
	return reqID
}
