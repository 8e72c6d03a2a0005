package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/invitation"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/mailer"
)

// inviteMailer sends the invitation email for an issued token. Failures are
// logged and reported to the caller, never rolled back.
type inviteMailer struct {
	Invitations *invitation.Service
	Sender      mailer.Sender
	Frontend    string
	Log         *zap.Logger
}

func (m inviteMailer) send(ctx context.Context, token string) (string, error) {
	view, err := m.Invitations.ProjectView(ctx, token)
	if err != nil {
		return "", err
	}
	id, err := m.Sender.SendInvitation(ctx, mailer.InvitationEmail{
		ClientEmail:     view.Invitation.ClientEmail,
		InvitationLink:  mailer.InvitationLink(m.Frontend, token),
		ProjectTitle:    view.Project.Title,
		FreelancerName:  view.Freelancer.Name,
		FreelancerEmail: view.Freelancer.Email,
		ExpiresAt:       view.Invitation.ExpiresAt.Format("2 Jan 2006 15:04 MST"),
	})
	if err != nil {
		m.Log.Warn("invitation email failed",
			zap.String("invitation_id", view.Invitation.ID.String()),
			zap.Error(err),
		)
	}
	return id, err
}

func refusalReason(s models.InvitationStatus) string {
	switch s {
	case models.InvitationExpired:
		return apperr.ReasonExpired
	case models.InvitationAccepted:
		return apperr.ReasonAlreadyAccepted
	case models.InvitationRejected:
		return apperr.ReasonAlreadyRejected
	}
	return ""
}

type InvitationHandler struct {
	Svc    *invitation.Service
	Mailer inviteMailer
}

func NewInvitationHandler(svc *invitation.Service, sender mailer.Sender, frontend string, log *zap.Logger) *InvitationHandler {
	return &InvitationHandler{
		Svc:    svc,
		Mailer: inviteMailer{Invitations: svc, Sender: sender, Frontend: frontend, Log: log},
	}
}

// Routes mounts the invitation surface. Reading and rejecting need only the
// token; creating and accepting need a session.
func (h *InvitationHandler) Routes(r fiber.Router, auth fiber.Handler) {
	r.Post("/invitations/create", auth, freelancerOnly, h.Create)
	r.Post("/invitations/accept", auth, clientOnly, h.Accept)
	r.Post("/invitations/check-client", h.CheckClient)
	r.Post("/invitations/reject", h.Reject)
	r.Post("/invitations/:token/resend", auth, freelancerOnly, h.Resend)
	r.Get("/invitations/:token", h.Get)
	r.Get("/invitations/:token/project", h.Project)
	r.Get("/projects/:id/invitations", auth, freelancerOnly, h.ListForProject)
}

type createInvitationReq struct {
	ProjectID    string `json:"projectId"`
	FreelancerID string `json:"freelancerId"`
	ClientEmail  string `json:"clientEmail"`
}

// actingAs resolves an id supplied in the body against the session. An empty
// id means the session user; any other id must match it.
func actingAs(c *fiber.Ctx, field, raw string) (uuid.UUID, error) {
	uid, err := getAuth(c)
	if err != nil {
		return uuid.Nil, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uid, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Invalid(field, "must be a valid id")
	}
	if id != uid {
		return uuid.Nil, apperr.Forbidden("%s does not match the signed-in user", field)
	}
	return uid, nil
}

func (h *InvitationHandler) Create(c *fiber.Ctx) error {
	var req createInvitationReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	freelancerID, err := actingAs(c, "freelancerId", req.FreelancerID)
	if err != nil {
		return err
	}
	projectID, err := uuid.Parse(strings.TrimSpace(req.ProjectID))
	if err != nil {
		return apperr.Invalid("projectId", "must be a valid id")
	}

	inv, err := h.Svc.Issue(c.UserContext(), invitation.IssueInput{
		ProjectID:    projectID,
		FreelancerID: freelancerID,
		ClientEmail:  req.ClientEmail,
	})
	if err != nil {
		return err
	}

	_, mailErr := h.Mailer.send(c.UserContext(), inv.Token)
	return ok(c, fiber.StatusCreated, fiber.Map{
		"invitationId": inv.ID,
		"token":        inv.Token,
		"expiresAt":    inv.ExpiresAt,
		"emailSent":    mailErr == nil,
	})
}

// Resend mails an existing pending invitation again.
func (h *InvitationHandler) Resend(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	inv, err := h.Svc.Get(c.UserContext(), c.Params("token"))
	if err != nil {
		return err
	}
	if inv.FreelancerID != uid {
		return apperr.Forbidden("only the inviting freelancer can resend")
	}
	if inv.Status != models.InvitationPending {
		return apperr.InvalidState(refusalReason(inv.Status), "invitation is %s", inv.Status)
	}
	id, err := h.Mailer.send(c.UserContext(), inv.Token)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"messageId": id})
}

func (h *InvitationHandler) Get(c *fiber.Ctx) error {
	inv, err := h.Svc.Get(c.UserContext(), c.Params("token"))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"invitation": inv})
}

func (h *InvitationHandler) Project(c *fiber.Ctx) error {
	view, err := h.Svc.ProjectView(c.UserContext(), c.Params("token"))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{
		"invitation": view.Invitation,
		"project":    view.Project,
		"freelancer": view.Freelancer,
	})
}

type checkClientReq struct {
	Email string `json:"email"`
}

func (h *InvitationHandler) CheckClient(c *fiber.Ctx) error {
	var req checkClientReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	client, err := h.Svc.CheckClient(c.UserContext(), req.Email)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{
		"exists": client != nil,
		"client": client,
	})
}

type tokenReq struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId"`
}

func (t tokenReq) token() (string, error) {
	tok := strings.TrimSpace(t.Token)
	if tok == "" {
		return "", apperr.Invalid("token", "is required")
	}
	return tok, nil
}

func (h *InvitationHandler) Accept(c *fiber.Ctx) error {
	var req tokenReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	token, err := req.token()
	if err != nil {
		return err
	}
	clientID, err := actingAs(c, "clientId", req.ClientID)
	if err != nil {
		return err
	}

	res, err := h.Svc.Accept(c.UserContext(), token, clientID)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": res})
}

func (h *InvitationHandler) Reject(c *fiber.Ctx) error {
	var req tokenReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	token, err := req.token()
	if err != nil {
		return err
	}
	inv, err := h.Svc.Reject(c.UserContext(), token)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"invitation": inv})
}

func (h *InvitationHandler) ListForProject(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	projectID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	invs, err := h.Svc.ListForProject(c.UserContext(), projectID, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": invs})
}
