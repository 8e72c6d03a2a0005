package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/utils"
)

// JWT verifies the session token from the cookie, an Authorization bearer
// header, or (for websocket upgrades) the token query parameter, and sets
// the userId and role locals.
func JWT(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := tokenFrom(c)
		if tokenStr == "" {
			return fiber.ErrUnauthorized
		}

		claims, err := utils.ParseJWT(secret, tokenStr)
		if err != nil {
			return fiber.ErrUnauthorized
		}

		if !attachLocals(c, claims) {
			return fiber.ErrUnauthorized
		}
		return c.Next()
	}
}

func tokenFrom(c *fiber.Ctx) string {
	if t := c.Cookies(utils.SessionCookie); t != "" {
		return t
	}
	if h := c.Get(fiber.HeaderAuthorization); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return c.Query("token")
}
