package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-review/internal/config"
	"github.com/noah-isme/gema-review/internal/handler"
	"github.com/noah-isme/gema-review/internal/middleware"
	"github.com/noah-isme/gema-review/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ReviewHandler       *handler.ReviewHandler
	UploadHandler       *handler.UploadHandler
	NotificationHandler *handler.NotificationHandler
	ActivityHandler     *handler.ActivityHandler
	HealthProbes        map[string]handler.HealthProbe
	JWTMiddleware       fiber.Handler
	MetricsEnabled      bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))
	if deps.MetricsEnabled {
		app.Get("/metrics", observability.MetricsHandler())
	}

	// Common v1 group for headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	roles := cfg.ReviewerRoles
	if len(roles) == 0 {
		roles = config.DefaultReviewerRoles
	}
	reviewers := middleware.Authorize(middleware.AuthOptions{Roles: roles})

	if deps.ReviewHandler != nil {
		deps.ReviewHandler.Register(api.Group("/review/sessions", jwtMiddleware, reviewers))
	}

	if deps.UploadHandler != nil {
		deps.UploadHandler.Register(api.Group("/uploads/drafts", jwtMiddleware, reviewers))
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(api.Group("/notifications", jwtMiddleware))
	}

	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(api.Group("/activity", jwtMiddleware, reviewers))
	}
}
