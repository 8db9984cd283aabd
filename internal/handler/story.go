package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/storyforge/api/internal/middleware"
	"github.com/storyforge/api/internal/model"
	"github.com/storyforge/api/internal/service"
	"github.com/storyforge/api/pkg/response"
)

type StoryHandler struct {
	service   *service.StoryService
	validator *validator.Validate
}

func NewStoryHandler(svc *service.StoryService, v *validator.Validate) *StoryHandler {
	return &StoryHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/stories/generate
func (h *StoryHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	userID := middleware.GetUserID(c)
	result, err := h.service.StartGeneration(c.Context(), userID, &req)
	if err != nil {
		return response.ServiceError(c, "Failed to start story generation")
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/stories/status/:jobId
func (h *StoryHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load job status")
	}

	return response.OK(c, result)
}

// Result handles GET /api/stories/result/:jobId
func (h *StoryHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrStoryNotReady) {
			return response.ValidationError(c, "Story not completed yet", nil)
		}
		return response.ServiceError(c, "Failed to load story")
	}

	return response.OK(c, result)
}

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
