package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mozabank/banking_api/internal/auth"
	"github.com/mozabank/banking_api/internal/identity"
)

const identityLocal = "auth.identity"

// JWTAuth validates the bearer token before any protected handler runs and
// stores the resulting identity on the request.
func JWTAuth(tokens *auth.TokenService) fiber.Handler {
	tracer := otel.Tracer("github.com/mozabank/banking_api/internal/middleware")
	return func(c *fiber.Ctx) error {
		authz := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		const prefix = "bearer "
		if len(authz) <= len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
			return auth.ErrUnauthenticated
		}

		_, span := tracer.Start(c.UserContext(), "auth.validate")
		id, err := tokens.Validate(strings.TrimSpace(authz[len(prefix):]))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return err
		}
		span.SetAttributes(attribute.String("auth.role", id.Role.String()))
		span.End()

		c.Locals(identityLocal, id)
		return c.Next()
	}
}

// CurrentIdentity returns the identity stored by JWTAuth.
func CurrentIdentity(c *fiber.Ctx) (auth.Identity, bool) {
	id, ok := c.Locals(identityLocal).(auth.Identity)
	return id, ok
}

// RequirePermission rejects callers whose role does not grant p.
func RequirePermission(p identity.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := CurrentIdentity(c)
		if !ok {
			return auth.ErrUnauthenticated
		}
		if err := auth.Authorize(id, p); err != nil {
			return err
		}
		return c.Next()
	}
}
