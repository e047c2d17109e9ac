package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/examgrade/examgrade-api/internal/dto"
	"github.com/examgrade/examgrade-api/internal/service"
	"github.com/examgrade/examgrade-api/internal/utils"
)

// EvaluationHandler exposes the grading workflow over HTTP.
type EvaluationHandler struct {
	service service.EvaluationService
	logger  zerolog.Logger
}

// NewEvaluationHandler constructs an evaluation handler.
func NewEvaluationHandler(service service.EvaluationService, logger zerolog.Logger) *EvaluationHandler {
	return &EvaluationHandler{
		service: service,
		logger:  logger.With().Str("component", "evaluation_handler").Logger(),
	}
}

// Register wires evaluation routes.
func (h *EvaluationHandler) Register(router fiber.Router) {
	router.Post("/evaluations", h.evaluate)
	router.Get("/evaluations", h.list)
	router.Get("/evaluations/:id", h.get)
	router.Get("/subjects", h.subjects)
}

func (h *EvaluationHandler) evaluate(c *fiber.Ctx) error {
	var payload dto.EvaluateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.service.Evaluate(c.UserContext(), payload)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, "subject, question_id, and answer are required")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to evaluate answer")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to evaluate answer")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "answer evaluated", response)
}

func (h *EvaluationHandler) get(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid evaluation id")
	}

	response, err := h.service.Get(c.UserContext(), uint(id))
	if err != nil {
		if errors.Is(err, service.ErrEvaluationNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "evaluation not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Int("id", id).Msg("failed to load evaluation")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load evaluation")
	}

	return utils.SendSuccess(c, "evaluation found", response)
}

func (h *EvaluationHandler) list(c *fiber.Ctx) error {
	filter := dto.EvaluationListFilter{}

	if subject := strings.TrimSpace(c.Query("subject")); subject != "" {
		filter.Subject = &subject
	}
	if questionID := strings.TrimSpace(c.Query("question_id")); questionID != "" {
		filter.QuestionID = &questionID
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "limit must be an integer")
	}
	filter.Limit = limit

	history, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, "limit must be between 1 and 500")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list evaluations")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list evaluations")
	}

	return utils.SendSuccess(c, "evaluations listed", history)
}

func (h *EvaluationHandler) subjects(c *fiber.Ctx) error {
	subjects, err := h.service.Subjects(c.UserContext())
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list subjects")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list subjects")
	}

	return utils.SendSuccess(c, "subjects listed", subjects)
}
