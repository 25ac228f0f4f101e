package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mozabank/banking_api/internal/identity"
	"github.com/mozabank/banking_api/internal/middleware"
	"github.com/mozabank/banking_api/internal/transfer"
)

// RegisterTransferRoutes wires transfers and statements. The idempotency
// middleware runs after authentication so keys are scoped per user.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler, idempotency fiber.Handler) {
	canTransfer := middleware.RequirePermission(identity.PermTransfer)
	canView := middleware.RequirePermission(identity.PermViewOwnAccount)

	r.Post("/transfer", canTransfer, idempotency, h.Transfer)
	r.Post("/transactions/transfer", canTransfer, idempotency, h.Transfer)
	r.Get("/statement", canView, h.Statement)
	r.Get("/transactions/extract", canView, h.Statement)
}
