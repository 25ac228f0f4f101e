package auth

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mozabank/banking_api/internal/identity"
)

// Handler exposes the login endpoint.
type Handler struct {
	svc *Service
}

// NewHandler constructs an auth handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Login validates credentials and returns a bearer token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	session, err := h.svc.Login(c.UserContext(), identity.Credentials{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(loginResponse{
		Token:    session.Token,
		Username: session.Username,
		Role:     session.Role.String(),
	})
}
