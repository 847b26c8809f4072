package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/castreel/api/internal/apperr"
)

// Error codes
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeServiceError     = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, CodeForbidden, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func Conflict(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusConflict, CodeConflict, message, details)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

// FromError writes err using the status and code of its apperr kind.
// Internal and persistence details are not exposed.
func FromError(c *fiber.Ctx, err error) error {
	var details interface{}
	var ae *apperr.Error
	if errors.As(err, &ae) && len(ae.Details) > 0 {
		details = ae.Details
	}
	message := apperr.Message(err)

	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindInvalidTransition:
		return ValidationError(c, message, details)
	case apperr.KindNotFound:
		return NotFound(c, message)
	case apperr.KindConflict:
		return Conflict(c, message, details)
	case apperr.KindQuotaExceeded:
		return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, message, nil)
	case apperr.KindTransientProvider, apperr.KindGenerationFailed:
		return Error(c, apperr.HTTPStatus(err), CodeGenerationFailed, message, nil)
	case apperr.KindPersistence, apperr.KindInternal:
		return ServiceError(c, "Internal server error")
	default:
		return Error(c, apperr.HTTPStatus(err), CodeServiceError, message, nil)
	}
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
