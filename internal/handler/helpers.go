package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review/internal/middleware"
	"github.com/noah-isme/gema-review/internal/service"
	"github.com/noah-isme/gema-review/internal/utils"
	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}

func userIDStringFromContext(c *fiber.Ctx) string {
	if v, ok := c.Locals("user_id").(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func actorFromContext(c *fiber.Ctx) service.Actor {
	return service.Actor{
		ID:   userIDStringFromContext(c),
		Role: userRoleFromContext(c),
	}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

func validationDetails(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return details
}

var errInvalidBody = errors.New("invalid request body")

// bindAndValidate parses the JSON body into target and validates it.
func bindAndValidate(c *fiber.Ctx, validate *validator.Validate, target interface{}) error {
	if err := c.BodyParser(target); err != nil {
		return errInvalidBody
	}
	return validate.Struct(target)
}

// errorStatus maps service and backend errors onto HTTP statuses.
func errorStatus(err error) int {
	var apiErr *gradingapi.APIError

	switch {
	case isValidationError(err):
		return fiber.StatusBadRequest
	case service.IsValidation(err):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, errInvalidBody),
		errors.Is(err, service.ErrSubmissionIDRequired),
		errors.Is(err, service.ErrInvalidUploadMode):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrGradeNotFound),
		errors.Is(err, service.ErrUploadEntryNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrOverrideInFlight),
		errors.Is(err, service.ErrTriggerInFlight),
		errors.Is(err, service.ErrUploadInFlight),
		errors.Is(err, service.ErrActionUnavailable),
		errors.Is(err, service.ErrGradeFinal),
		errors.Is(err, service.ErrNoBatch):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrSessionClosed):
		return fiber.StatusGone
	case errors.Is(err, gradingapi.ErrNotAuthenticated):
		return fiber.StatusUnauthorized
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case fiber.StatusUnauthorized, fiber.StatusForbidden, fiber.StatusNotFound:
			return apiErr.StatusCode
		}
		return fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// sendServiceError writes err with the mapped status. Unexpected errors are
// logged and hidden behind a generic message.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	status := errorStatus(err)
	if status == fiber.StatusInternalServerError {
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("unexpected error")
		return utils.SendError(c, status, "internal server error")
	}
	if isValidationError(err) {
		return utils.Fail(c, status, "validation failed", validationDetails(err))
	}
	if errors.Is(err, gradingapi.ErrNotAuthenticated) {
		return utils.SendError(c, status, "Not authenticated")
	}
	return utils.SendError(c, status, err.Error())
}
