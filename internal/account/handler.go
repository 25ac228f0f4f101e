package account

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/mozabank/banking_api/internal/auth"
	"github.com/mozabank/banking_api/internal/middleware"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	AccountNumber string          `json:"accountNumber"`
	HolderName    string          `json:"userName"`
	TaxID         string          `json:"nuit"`
	Balance       decimal.Decimal `json:"balance"`
	OwnerUsername string          `json:"username"`
}

type accountResponse struct {
	AccountNumber string    `json:"accountNumber"`
	HolderName    string    `json:"userName"`
	TaxID         string    `json:"nuit"`
	OwnerUsername string    `json:"username"`
	Balance       string    `json:"balance"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toResponse(acc Account) accountResponse {
	return accountResponse{
		AccountNumber: acc.Number,
		HolderName:    acc.HolderName,
		TaxID:         acc.TaxID,
		OwnerUsername: acc.OwnerUsername,
		Balance:       acc.Balance.StringFixed(MinorUnits),
		CreatedAt:     acc.CreatedAt,
	}
}

// Create opens an account for an existing user.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	acc, err := h.service.Create(c.UserContext(), CreateInput{
		Number:         req.AccountNumber,
		HolderName:     req.HolderName,
		TaxID:          req.TaxID,
		OwnerUsername:  req.OwnerUsername,
		OpeningBalance: req.Balance,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(acc))
}

// Get returns one account by number.
func (h *Handler) Get(c *fiber.Ctx) error {
	acc, err := h.service.Get(c.UserContext(), c.Params("number"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(acc))
}

// List returns all accounts.
func (h *Handler) List(c *fiber.Ctx) error {
	accounts, err := h.service.List(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, toResponse(acc))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Me returns the account owned by the authenticated caller.
func (h *Handler) Me(c *fiber.Ctx) error {
	who, ok := middleware.CurrentIdentity(c)
	if !ok {
		return auth.ErrUnauthenticated
	}
	acc, err := h.service.GetByOwner(c.UserContext(), who.Username)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(acc))
}
