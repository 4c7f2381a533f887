package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jangxam/api/internal/client"
	"github.com/jangxam/api/internal/model"
	"github.com/jangxam/api/internal/repository"
	"github.com/jangxam/api/internal/service"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeConflict        = "CONFLICT"
	CodeRemoteError     = "REMOTE_ERROR"
	CodeNetworkError    = "NETWORK_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeCanceled        = "CANCELED"
	CodeUnparseable     = "UNPARSEABLE"
	CodeServiceError    = "SERVICE_ERROR"
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

// Classify maps an error onto an HTTP status and error code
func Classify(err error) (int, string) {
	var remoteErr *client.RemoteRequestError
	var netErr *client.NetworkError

	switch {
	case errors.Is(err, client.ErrAuthentication):
		return fiber.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, client.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return fiber.StatusNotFound, CodeNotFound
	case errors.Is(err, model.ErrEmptyPrompt), errors.Is(err, client.ErrInvalidJobID):
		return fiber.StatusBadRequest, CodeValidationError
	case errors.Is(err, service.ErrAlreadySettled), errors.Is(err, client.ErrCanceled):
		return fiber.StatusConflict, CodeConflict
	case errors.Is(err, client.ErrTimeout):
		return fiber.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, service.ErrUnparseable):
		return fiber.StatusUnprocessableEntity, CodeUnparseable
	case errors.As(err, &remoteErr), errors.Is(err, client.ErrMalformedResponse), errors.Is(err, client.ErrNoContent):
		return fiber.StatusBadGateway, CodeRemoteError
	case errors.As(err, &netErr):
		return fiber.StatusServiceUnavailable, CodeNetworkError
	}
	return fiber.StatusInternalServerError, CodeServiceError
}

// FromError writes the error envelope for err
func FromError(c *fiber.Ctx, err error) error {
	status, code := Classify(err)
	return Error(c, status, code, err.Error(), nil)
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}
