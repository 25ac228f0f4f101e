package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mozabank/banking_api/internal/auth"
)

// RegisterAuthRoutes wires the public login endpoint.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	r.Post("/login", rateLimiter, h.Login)
	r.Post("/auth/login", rateLimiter, h.Login)
}
