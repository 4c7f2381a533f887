package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Credential headers. Callers bring their own provider keys; the server
// falls back to its configured ones.
const (
	HeaderReplicateToken = "X-Replicate-Token"
	HeaderGeminiKey      = "X-Gemini-Key"
)

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

func credentialFrom(c *fiber.Ctx, header string) string {
	return strings.TrimSpace(c.Get(header))
}
