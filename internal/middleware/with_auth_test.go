package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review/internal/middleware"
)

var reviewerRoles = []string{"Teacher", "admin", "authenticated"}

func withUser(userID, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	}
}

func guardedApp(user fiber.Handler, opts middleware.AuthOptions) *fiber.App {
	app := fiber.New()
	app.Use(user)
	group := app.Group("/review", middleware.Authorize(opts))
	group.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestAuthorizeAdmitsConfiguredRoles(t *testing.T) {
	for _, role := range []string{"teacher", "ADMIN", "authenticated"} {
		app := guardedApp(withUser("u-1", role), middleware.AuthOptions{Roles: reviewerRoles})

		resp := perform(t, app, "/review")
		require.Equal(t, fiber.StatusNoContent, resp.StatusCode, role)
	}
}

func TestAuthorizeRejectsOtherRoles(t *testing.T) {
	app := guardedApp(withUser("u-1", "student"), middleware.AuthOptions{Roles: reviewerRoles})
	resp := perform(t, app, "/review")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	app = guardedApp(withUser("u-1", ""), middleware.AuthOptions{Roles: reviewerRoles})
	resp = perform(t, app, "/review")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestAuthorizeWithRolesRequiresUser(t *testing.T) {
	app := guardedApp(withUser("", "teacher"), middleware.AuthOptions{Roles: reviewerRoles})

	resp := perform(t, app, "/review")
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWithAuthRequiresUserWhenAsked(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{RequireUser: true}))

	resp := perform(t, app, "/")
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWithAuthAllowsAnonymousByDefault(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{}))

	resp := perform(t, app, "/")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func perform(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}
