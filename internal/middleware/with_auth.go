package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-review/internal/utils"
)

// AuthOptions configures Authorize and WithAuth. An empty Roles list accepts
// any role; a non-empty list implies RequireUser.
type AuthOptions struct {
	Roles       []string
	RequireUser bool
}

type authGuard struct {
	roles       map[string]struct{}
	requireUser bool
}

func newAuthGuard(opts AuthOptions) authGuard {
	guard := authGuard{roles: make(map[string]struct{}, len(opts.Roles)), requireUser: opts.RequireUser}
	for _, role := range opts.Roles {
		if normalized := normalizeRoleValue(role); normalized != "" {
			guard.roles[normalized] = struct{}{}
		}
	}
	if len(guard.roles) > 0 {
		guard.requireUser = true
	}
	return guard
}

// deny returns the rejection status and message, or zero when c may proceed.
func (g authGuard) deny(c *fiber.Ctx) (int, string) {
	userID, _ := c.Locals("user_id").(string)
	if g.requireUser && userID == "" {
		return fiber.StatusUnauthorized, "authentication required"
	}
	if len(g.roles) == 0 {
		return 0, ""
	}
	if _, ok := g.roles[normalizeRoleValue(c.Locals("user_role"))]; !ok {
		return fiber.StatusForbidden, "insufficient permissions"
	}
	return 0, ""
}

// Authorize returns group middleware that admits only callers matching opts.
func Authorize(opts AuthOptions) fiber.Handler {
	guard := newAuthGuard(opts)
	return func(c *fiber.Ctx) error {
		if status, message := guard.deny(c); status != 0 {
			return utils.SendError(c, status, message)
		}
		return c.Next()
	}
}

// WithAuth wraps a single handler with the same checks as Authorize.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	guard := newAuthGuard(opts)
	return func(c *fiber.Ctx) error {
		if status, message := guard.deny(c); status != 0 {
			return utils.SendError(c, status, message)
		}
		return handler(c)
	}
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
