package response

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/jangxam/api/internal/client"
	"github.com/jangxam/api/internal/model"
	"github.com/jangxam/api/internal/repository"
	"github.com/jangxam/api/internal/service"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: Invalid token.", client.ErrAuthentication), fiber.StatusUnauthorized, CodeUnauthorized},
		{client.ErrNotFound, fiber.StatusNotFound, CodeNotFound},
		{repository.ErrNotFound, fiber.StatusNotFound, CodeNotFound},
		{model.ErrEmptyPrompt, fiber.StatusBadRequest, CodeValidationError},
		{service.ErrAlreadySettled, fiber.StatusConflict, CodeConflict},
		{client.ErrTimeout, fiber.StatusGatewayTimeout, CodeTimeout},
		{fmt.Errorf("lesson generation failed: %w", service.ErrUnparseable), fiber.StatusUnprocessableEntity, CodeUnparseable},
		{&client.RemoteRequestError{StatusCode: 422, Detail: "bad version"}, fiber.StatusBadGateway, CodeRemoteError},
		{&client.NetworkError{Op: "GET /predictions/x", Err: errors.New("connection refused")}, fiber.StatusServiceUnavailable, CodeNetworkError},
		{errors.New("boom"), fiber.StatusInternalServerError, CodeServiceError},
	}

	for _, tt := range tests {
		status, code := Classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("%v: expected %d %s, got %d %s", tt.err, tt.status, tt.code, status, code)
		}
	}
}
