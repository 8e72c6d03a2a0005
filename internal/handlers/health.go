package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/db"
)

func Health(gdb *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := db.Ping(gdb); err != nil {
			return apperr.Unavailable("health", err)
		}
		return ok(c, fiber.StatusOK, fiber.Map{"status": "ok"})
	}
}
