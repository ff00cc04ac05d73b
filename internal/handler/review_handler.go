package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review/internal/dto"
	"github.com/noah-isme/gema-review/internal/middleware"
	"github.com/noah-isme/gema-review/internal/service"
	"github.com/noah-isme/gema-review/internal/utils"
)

// ReviewHandler exposes review sessions over HTTP.
type ReviewHandler struct {
	service   service.ReviewService
	validator *validator.Validate
	logger    zerolog.Logger
	limiter   fiber.Handler
}

// NewReviewHandler constructs a review handler. limiter guards the calls that
// mutate backend state and may be nil.
func NewReviewHandler(service service.ReviewService, validator *validator.Validate, limiter fiber.Handler, logger zerolog.Logger) *ReviewHandler {
	if limiter == nil {
		limiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &ReviewHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "review_handler").Logger(),
		limiter:   limiter,
	}
}

// Register binds the review session routes.
func (h *ReviewHandler) Register(router fiber.Router) {
	router.Post("/", h.open)
	router.Get("/:id", h.get)
	router.Delete("/:id", h.close)
	router.Post("/:id/refresh", h.refresh)
	router.Post("/:id/next", h.next)
	router.Post("/:id/previous", h.previous)
	router.Put("/:id/cursor", h.seek)
	router.Post("/:id/trigger-grading", h.limiter, h.triggerGrading)
	router.Put("/:id/overrides/:gradeId", h.stageOverride)
	router.Delete("/:id/overrides/:gradeId", h.discardOverride)
	router.Post("/:id/overrides/:gradeId/submit", h.limiter, h.submitOverride)
	router.Get("/:id/feedback", h.feedback)
	router.Get("/:id/audit", h.audit)
}

func (h *ReviewHandler) session(c *fiber.Ctx) (*service.ReviewSession, error) {
	return h.service.Get(actorFromContext(c), middleware.GetAccessToken(c), c.Params("id"))
}

func (h *ReviewHandler) open(c *fiber.Ctx) error {
	var req dto.OpenReviewSessionRequest
	if err := bindAndValidate(c, h.validator, &req); err != nil {
		return sendServiceError(c, h.logger, err)
	}

	session, err := h.service.Open(requestContext(c), actorFromContext(c), middleware.GetAccessToken(c), req.SubmissionID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Str("session_id", session.ID()).
		Str("submission_id", session.SubmissionID()).
		Msg("review session opened")

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "review session opened", session.View())
}

func (h *ReviewHandler) get(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "review session", session.View())
}

func (h *ReviewHandler) close(c *fiber.Ctx) error {
	if err := h.service.Close(actorFromContext(c), c.Params("id")); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ReviewHandler) refresh(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := session.Refresh(requestContext(c)); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "review session refreshed", session.View())
}

func (h *ReviewHandler) next(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := session.Next(); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "", session.View())
}

func (h *ReviewHandler) previous(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := session.Previous(); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "", session.View())
}

func (h *ReviewHandler) seek(c *fiber.Ctx) error {
	var req dto.ReviewCursorRequest
	if err := bindAndValidate(c, h.validator, &req); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := session.Seek(*req.Index); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "", session.View())
}

func (h *ReviewHandler) triggerGrading(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := session.TriggerGrading(requestContext(c)); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "grading started", session.View())
}

func (h *ReviewHandler) stageOverride(c *fiber.Ctx) error {
	var req dto.StageOverrideRequest
	if err := bindAndValidate(c, h.validator, &req); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := session.StageOverride(c.Params("gradeId"), req); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "override staged", session.View())
}

func (h *ReviewHandler) discardOverride(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if err := session.DiscardOverride(c.Params("gradeId")); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "override discarded", session.View())
}

func (h *ReviewHandler) submitOverride(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	gradeID := c.Params("gradeId")
	grade, err := session.SubmitOverride(requestContext(c), gradeID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Str("session_id", session.ID()).
		Str("grade_id", gradeID).
		Msg("grade overridden")

	return utils.SendSuccess(c, "Grade overridden successfully", dto.OverrideResultResponse{
		Grade:   grade,
		Session: session.View(),
	})
}

func (h *ReviewHandler) feedback(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	feedback, err := session.Feedback(requestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "feedback", feedback)
}

func (h *ReviewHandler) audit(c *fiber.Ctx) error {
	session, err := h.session(c)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	entityType := strings.TrimSpace(c.Query("type"))
	if entityType == "" {
		entityType = "submission"
	}
	entries, err := session.Audit(requestContext(c), entityType)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "audit log", entries)
}
