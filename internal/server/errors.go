package server

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mozabank/banking_api/internal/account"
	"github.com/mozabank/banking_api/internal/auth"
	"github.com/mozabank/banking_api/internal/identity"
	"github.com/mozabank/banking_api/internal/transfer"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
	title  string
}

// Checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{transfer.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT", "Invalid amount"},
	{transfer.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found"},
	{transfer.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"},
	{transfer.ErrBalanceLimit, http.StatusUnprocessableEntity, "BALANCE_LIMIT", "Balance limit exceeded"},
	{transfer.ErrConflict, http.StatusConflict, "CONFLICT", "Concurrent update"},
	{transfer.ErrOutcomeUnknown, http.StatusServiceUnavailable, "OUTCOME_UNKNOWN", "Transfer outcome unknown"},
	{transfer.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE", "Service unavailable"},
	{auth.ErrInvalidSignature, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid token"},
	{auth.ErrExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expired"},
	{auth.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required"},
	{identity.ErrInvalidCredentials, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid credentials"},
	{auth.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Forbidden"},
	{account.ErrNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found"},
	{account.ErrExists, http.StatusConflict, "ALREADY_EXISTS", "Account already exists"},
	{account.ErrOwnerNotFound, http.StatusUnprocessableEntity, "OWNER_NOT_FOUND", "Owner not found"},
	{account.ErrInvalidInput, http.StatusBadRequest, "BAD_REQUEST", "Invalid account"},
	{identity.ErrUserExists, http.StatusConflict, "ALREADY_EXISTS", "User already exists"},
	{identity.ErrInvalidInput, http.StatusBadRequest, "BAD_REQUEST", "Invalid user"},
	{identity.ErrUnknownRole, http.StatusBadRequest, "BAD_REQUEST", "Unknown role"},
}

// ErrorHandler renders errors returned by handlers and middleware.
// Unmapped errors are logged and answered with a generic 500.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, body := Classify(err)
		if status == http.StatusInternalServerError {
			logger.Error("unhandled error",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}
		return c.Status(status).JSON(body)
	}
}

// Classify maps err to its HTTP status and response body.
func Classify(err error) (int, ErrorBody) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, ErrorBody{Code: m.code, Title: m.title, Message: err.Error()}
		}
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, ErrorBody{Code: codeForStatus(fe.Code), Title: http.StatusText(fe.Code), Message: fe.Message}
	}

	return http.StatusInternalServerError, ErrorBody{
		Code:    "INTERNAL",
		Title:   "Internal error",
		Message: "an unexpected error occurred",
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "TOO_MANY_REQUESTS"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL"
		}
		return "ERROR"
	}
}
