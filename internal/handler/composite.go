package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/castreel/api/internal/middleware"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/service"
	"github.com/castreel/api/pkg/response"
)

type CompositeHandler struct {
	service   *service.CompositeService
	validator *validator.Validate
}

func NewCompositeHandler(svc *service.CompositeService, v *validator.Validate) *CompositeHandler {
	return &CompositeHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/composites
// @Summary      Start composite video job
// @Description  Segment a script and queue generation of one clip per segment
// @Tags         Composites
// @Accept       json
// @Produce      json
// @Param        request body model.CompositeStartRequest true "Composite start request"
// @Success      202 {object} model.CompositeStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/composites [post]
func (h *CompositeHandler) Start(c *fiber.Ctx) error {
	var req model.CompositeStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/composites/:jobId
// @Summary      Get composite job status
// @Description  Per-clip progress and, once finished, the final video or error
// @Tags         Composites
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.CompositeStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/composites/{jobId} [get]
func (h *CompositeHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/composites/:jobId/cancel
// @Summary      Cancel composite job
// @Description  Stop the job before its next clip. The clip in progress is not interrupted.
// @Tags         Composites
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.CompositeCancelResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/composites/{jobId}/cancel [post]
func (h *CompositeHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Retry handles POST /api/composites/:jobId/retry
// @Summary      Retry failed composite job
// @Description  Create a new job that reuses the completed clips of a failed one
// @Tags         Composites
// @Produce      json
// @Param        jobId path string true "Failed job ID"
// @Success      202 {object} model.CompositeStartResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/composites/{jobId}/retry [post]
func (h *CompositeHandler) Retry(c *fiber.Ctx) error {
	result, err := h.service.Retry(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Preview handles POST /api/segments/preview
// @Summary      Preview script segmentation
// @Description  Split a script into hook, testimonial and call-to-action segments without creating a job
// @Tags         Segments
// @Accept       json
// @Produce      json
// @Param        request body model.SegmentPreviewRequest true "Segment preview request"
// @Success      200 {object} model.SegmentPreviewResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/segments/preview [post]
func (h *CompositeHandler) Preview(c *fiber.Ctx) error {
	var req model.SegmentPreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Preview(c.UserContext(), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}
