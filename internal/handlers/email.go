package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/mailer"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/validation"
)

type EmailHandler struct {
	Sender mailer.Sender
}

func NewEmailHandler(sender mailer.Sender) *EmailHandler {
	return &EmailHandler{Sender: sender}
}

func (h *EmailHandler) Routes(r fiber.Router, auth fiber.Handler) {
	r.Post("/email/send-invitation", auth, freelancerOnly, h.SendInvitation)
}

// SendInvitation mails a caller-composed invitation.
func (h *EmailHandler) SendInvitation(c *fiber.Ctx) error {
	var req mailer.InvitationEmail
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := validation.Struct(req); err != nil {
		return err
	}
	id, err := h.Sender.SendInvitation(c.UserContext(), req)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"messageId": id})
}
