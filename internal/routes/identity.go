package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mozabank/banking_api/internal/identity"
	"github.com/mozabank/banking_api/internal/middleware"
)

// RegisterUserRoutes wires user administration.
func RegisterUserRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/users", middleware.RequirePermission(identity.PermManageUsers), h.Register)
}
