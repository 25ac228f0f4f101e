package identity

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes user administration endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a user handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register creates a user. The role defaults to CUSTOMER.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	role := RoleCustomer
	if req.Role != "" {
		parsed, err := ParseRole(req.Role)
		if err != nil {
			return err
		}
		role = parsed
	}

	user, err := h.service.Register(c.UserContext(), RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"id":        user.ID,
		"username":  user.Username,
		"role":      user.Role.String(),
		"createdAt": user.CreatedAt.Format(time.RFC3339),
	})
}
