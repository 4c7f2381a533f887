package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/jangxam/api/internal/model"
	"github.com/jangxam/api/internal/service"
	"github.com/jangxam/api/pkg/response"
)

type LessonHandler struct {
	service   *service.LessonService
	validator *validator.Validate
}

func NewLessonHandler(svc *service.LessonService, v *validator.Validate) *LessonHandler {
	return &LessonHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/lessons/generate
// @Summary      Generate lesson plan
// @Description  Draft a lesson plan following the Senegalese curriculum
// @Tags         Lessons
// @Accept       json
// @Produce      json
// @Param        X-Gemini-Key header string false "Gemini API key"
// @Param        request body model.LessonPlanRequest true "Lesson plan request"
// @Success      200 {object} model.LessonPlan
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      422 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Router       /api/lessons/generate [post]
func (h *LessonHandler) Generate(c *fiber.Ctx) error {
	var req model.LessonPlanRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Generate(c.Context(), credentialFrom(c, HeaderGeminiKey), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}
