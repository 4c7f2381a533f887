package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/jangxam/api/internal/model"
	"github.com/jangxam/api/internal/service"
	"github.com/jangxam/api/pkg/response"
)

type GenerationHandler struct {
	service   *service.GenerationService
	validator *validator.Validate
}

func NewGenerationHandler(svc *service.GenerationService, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/images/generate
// @Summary      Start image generation
// @Description  Queue an image generation; progress is pushed on /ws/images/{jobId}
// @Tags         Images
// @Accept       json
// @Produce      json
// @Param        X-Replicate-Token header string false "Replicate API token"
// @Param        request body model.GenerationRequest true "Generation request"
// @Success      202 {object} model.GenerationStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Router       /api/images/generate [post]
func (h *GenerationHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.StartGeneration(c.Context(), req, credentialFrom(c, HeaderReplicateToken))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Get handles GET /api/images/:jobId
// @Summary      Get generation
// @Description  Get a generation by remote or placeholder id
// @Tags         Images
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.GenerationRecord
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/images/{jobId} [get]
func (h *GenerationHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetGeneration(c.Context(), jobID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/images/:jobId/cancel
// @Summary      Cancel generation
// @Description  Stop polling a generation; takes effect before the next poll
// @Tags         Images
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.GenerationCancelResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/images/{jobId}/cancel [post]
func (h *GenerationHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.CancelGeneration(c.Context(), jobID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Pending handles GET /api/images/pending
func (h *GenerationHandler) Pending(c *fiber.Ctx) error {
	result, err := h.service.ListPending(c.Context())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Gallery handles GET /api/images/gallery
func (h *GenerationHandler) Gallery(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return response.ValidationError(c, "limit must not be negative", nil)
	}

	result, err := h.service.ListGallery(c.Context(), limit)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}
