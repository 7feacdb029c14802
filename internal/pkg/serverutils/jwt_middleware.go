package serverutils

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/xaenox/medichat/internal/models"
)

const callerKey = "caller"

type TokenVerifier interface {
	Verify(token string) (*models.Caller, error)
}

// JwtMiddleware verifies the bearer token and stores the caller in the
// request locals. The websocket upgrade passes the token as a query
// parameter instead.
func JwtMiddleware(verifier TokenVerifier) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		tokenStr := ""
		authHeader := ctx.Get(fiber.HeaderAuthorization)
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenStr = strings.TrimSpace(authHeader[len("Bearer "):])
		} else if authHeader == "" {
			tokenStr = ctx.Query("token")
		}
		if tokenStr == "" {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Missing token"))
		}

		caller, err := verifier.Verify(tokenStr)
		if err != nil {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
		}

		ctx.Locals(callerKey, caller)
		return ctx.Next()
	}
}

// Caller returns the verified caller of the request, if any.
func Caller(ctx *fiber.Ctx) (*models.Caller, bool) {
	caller, ok := ctx.Locals(callerKey).(*models.Caller)
	return caller, ok && caller != nil
}

// CallerID is the verified caller id, or "" for anonymous requests.
func CallerID(ctx *fiber.Ctx) string {
	if caller, ok := Caller(ctx); ok {
		return caller.ID
	}
	return ""
}
