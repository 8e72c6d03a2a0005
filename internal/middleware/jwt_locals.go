package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/utils"
)

// attachLocals copies verified claims into the user, userId and role locals.
func attachLocals(c *fiber.Ctx, claims *utils.Claims) bool {
	uid := strings.TrimSpace(claims.UserID)
	if _, err := uuid.Parse(uid); err != nil {
		return false
	}
	c.Locals("user", claims)
	c.Locals("userId", uid)
	c.Locals("role", strings.ToLower(strings.TrimSpace(claims.Role)))
	return true
}
