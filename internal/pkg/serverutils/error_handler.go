package serverutils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/xaenox/medichat/internal/models"
)

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return fiber.StatusBadRequest, "validation"
	case errors.Is(err, models.ErrAuthorization):
		return fiber.StatusForbidden, "authorization"
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrConstraint):
		return fiber.StatusConflict, "constraint"
	case errors.Is(err, models.ErrExternalService):
		return fiber.StatusBadGateway, "external_service"
	}
	return fiber.StatusInternalServerError, ""
}

// ErrorHandler renders typed errors as JSON. Untyped errors are logged
// and reported without detail.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(ctx *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return ctx.Status(fe.Code).JSON(ErrorResponse(fe.Code, fe.Message))
		}

		code, kind := StatusFor(err)
		msg := models.DisplayMessage(err)
		if code == fiber.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("method", ctx.Method()),
				zap.String("path", ctx.Path()),
				zap.Error(err))
			msg = "internal server error"
		}

		resp := ErrorResponse(code, msg)
		resp.Kind = kind
		return ctx.Status(code).JSON(resp)
	}
}
