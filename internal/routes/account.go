package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mozabank/banking_api/internal/account"
	"github.com/mozabank/banking_api/internal/identity"
	"github.com/mozabank/banking_api/internal/middleware"
)

// RegisterAccountRoutes wires account administration and the caller's own account.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	manage := middleware.RequirePermission(identity.PermManageAccounts)
	r.Get("/accounts/me", middleware.RequirePermission(identity.PermViewOwnAccount), h.Me)
	r.Post("/accounts", manage, h.Create)
	r.Post("/accounts/create", manage, h.Create)
	r.Get("/accounts", manage, h.List)
	r.Get("/accounts/:number", manage, h.Get)
}
