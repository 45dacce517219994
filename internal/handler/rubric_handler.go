package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/grading"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/extract"
)

// RubricHandler exposes rubric editing and import endpoints.
type RubricHandler struct {
	service service.RubricService
	logger  zerolog.Logger
}

// NewRubricHandler constructs the handler.
func NewRubricHandler(service service.RubricService, logger zerolog.Logger) *RubricHandler {
	return &RubricHandler{
		service: service,
		logger:  logger.With().Str("component", "rubric_handler").Logger(),
	}
}

// Register attaches rubric routes under the assignments group.
func (h *RubricHandler) Register(router fiber.Router) {
	staff := middleware.RequireStaff()
	router.Put("/:id/rubric", staff, h.set)
	router.Post("/:id/rubric/import", staff, h.importDocument)
}

func (h *RubricHandler) set(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RubricUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	assignment, err := h.service.Set(c.UserContext(), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "rubric updated", assignment)
}

func (h *RubricHandler) importDocument(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var assignment dto.AssignmentResponse
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		file, formErr := c.FormFile("file")
		if formErr != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "file is required")
		}
		assignment, err = h.service.ImportFile(c.UserContext(), id, file)
	} else {
		var payload dto.RubricImportRequest
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
		assignment, err = h.service.Import(c.UserContext(), id, payload)
	}
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "rubric imported", assignment)
}

func (h *RubricHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	case errors.Is(err, service.ErrInvalidPayload):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, grading.ErrRubricParse), errors.Is(err, extract.ErrExtraction):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ai.ErrModelInvocation):
		requestLogger(h.logger, c).Warn().Err(err).Msg("rubric model call failed")
		return utils.SendError(c, fiber.StatusBadGateway, "rubric conversion is temporarily unavailable")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
