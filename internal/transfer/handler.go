package transfer

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mozabank/banking_api/internal/account"
	"github.com/mozabank/banking_api/internal/auth"
	"github.com/mozabank/banking_api/internal/middleware"
)

// Handler exposes transfer and statement endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a transfer handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// rawAmount accepts both JSON numbers and strings so the decimal text
// reaches ParseAmount without a float64 round trip.
type rawAmount string

func (a *rawAmount) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = rawAmount(s)
		return nil
	}
	if string(b) == "null" {
		*a = ""
		return nil
	}
	*a = rawAmount(b)
	return nil
}

type transferRequest struct {
	FromAccountNumber string    `json:"fromAccountNumber"`
	ToAccountNumber   string    `json:"toAccountNumber"`
	Amount            rawAmount `json:"amount"`
	Description       string    `json:"description"`
}

// Transfer executes a transfer between two accounts.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	amount, err := ParseAmount(string(req.Amount))
	if err != nil {
		return err
	}

	receipt, err := h.engine.Transfer(c.UserContext(), Request{
		From:        strings.TrimSpace(req.FromAccountNumber),
		To:          strings.TrimSpace(req.ToAccountNumber),
		Amount:      amount,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message":           "Transfer completed successfully",
		"transactionId":     receipt.EntryID,
		"fromAccountNumber": receipt.From,
		"toAccountNumber":   receipt.To,
		"amount":            receipt.Amount.StringFixed(account.MinorUnits),
		"description":       receipt.Description,
		"timestamp":         receipt.Timestamp.Format(time.RFC3339Nano),
	})
}

type statementLine struct {
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	Timestamp     string `json:"timestamp"`
	Direction     string `json:"direction"`
	Counterparty  string `json:"counterparty"`
	Description   string `json:"description,omitempty"`
}

// Statement returns the caller's account statement.
func (h *Handler) Statement(c *fiber.Ctx) error {
	ident, ok := middleware.CurrentIdentity(c)
	if !ok {
		return auth.ErrUnauthenticated
	}

	ctx := c.UserContext()
	acc, err := h.engine.AccountForOwner(ctx, ident.Username)
	if err != nil {
		return err
	}
	lines, err := h.engine.Statement(ctx, acc.Number)
	if err != nil {
		return err
	}

	out := make([]statementLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, statementLine{
			TransactionID: l.EntryID,
			Amount:        l.Amount.StringFixed(account.MinorUnits),
			Timestamp:     l.Timestamp.Format(time.RFC3339Nano),
			Direction:     string(l.Direction),
			Counterparty:  l.Counterparty,
			Description:   l.Description,
		})
	}
	return c.JSON(fiber.Map{
		"accountNumber": acc.Number,
		"lines":         out,
	})
}
