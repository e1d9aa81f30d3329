package serverutils

import (
	"errors"

	"reflection-chat-be/internal/repository/contract"

	"github.com/gofiber/fiber/v2"
)

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	var fiberErr *fiber.Error
	var validationErr *ValidationError
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.As(err, &validationErr):
		return fiber.StatusBadRequest
	case errors.Is(err, contract.ErrSessionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, contract.ErrInvalidIdentifier),
		errors.Is(err, contract.ErrEmptyMessage),
		errors.Is(err, contract.ErrInvalidRole):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code := StatusFor(err)
		message := err.Error()
		if code == fiber.StatusInternalServerError {
			message = "Internal server error"
		}
		return ctx.Status(code).JSON(ErrorResponse(code, message))
	}
}
