package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/middleware"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
)

func getAuth(c *fiber.Ctx) (uuid.UUID, error) {
	rawID, ok := c.Locals("userId").(string)
	if !ok || rawID == "" {
		return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	uID, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "invalid user id")
	}
	return uID, nil
}

func getRole(c *fiber.Ctx) models.Role {
	role, _ := c.Locals("role").(string)
	return models.Role(role)
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Params(name)))
	if err != nil {
		return uuid.Nil, apperr.Invalid(name, "must be a valid id")
	}
	return id, nil
}

func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperr.Invalid("body", "invalid body")
	}
	return nil
}

// ok writes the success envelope with payload merged at the top level.
func ok(c *fiber.Ctx, status int, payload fiber.Map) error {
	out := fiber.Map{"success": true}
	for k, v := range payload {
		out[k] = v
	}
	return c.Status(status).JSON(out)
}

// ErrorHandler renders every error returned by a handler as the failure
// envelope {success:false, error, code, reason?, errors?}.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			status := apperr.Status(ae.Kind)
			body := fiber.Map{
				"success": false,
				"error":   publicMessage(ae),
				"code":    string(ae.Kind),
			}
			if ae.Reason != "" {
				body["reason"] = ae.Reason
			}
			if len(ae.Fields) > 0 {
				body["errors"] = ae.Fields
			}
			if status >= fiber.StatusInternalServerError {
				log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
			}
			return c.Status(status).JSON(body)
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"success": false,
				"error":   fe.Message,
				"code":    codeForStatus(fe.Code),
			})
		}

		log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "internal server error",
			"code":    "internal",
		})
	}
}

// publicMessage hides store details behind Unavailable.
func publicMessage(ae *apperr.Error) string {
	if ae.Kind == apperr.KindUnavailable {
		return "service temporarily unavailable, please retry"
	}
	return ae.Msg
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusForbidden:
		return string(apperr.KindForbidden)
	case fiber.StatusNotFound:
		return string(apperr.KindNotFound)
	case fiber.StatusBadRequest:
		return string(apperr.KindValidation)
	default:
		return "http_" + strconv.Itoa(status)
	}
}

var (
	freelancerOnly = middleware.RequireRoles(string(models.RoleFreelancer))
	clientOnly     = middleware.RequireRoles(string(models.RoleClient))
)
