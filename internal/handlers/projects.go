package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/contract"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/invitation"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/project"
)

type ProjectHandler struct {
	Projects    *project.Service
	Contracts   *contract.Service
	Invitations *invitation.Service
	Mailer      inviteMailer
	Log         *zap.Logger
}

func (h *ProjectHandler) Routes(r fiber.Router, auth fiber.Handler) {
	g := r.Group("/projects", auth)
	g.Post("/", freelancerOnly, h.Create)
	g.Get("/", h.List)
	g.Get("/:id", h.Get)
	g.Put("/:id", freelancerOnly, h.Update)
	g.Patch("/:id/status", freelancerOnly, h.UpdateStatus)
	g.Patch("/:id/visibility", h.SetVisibility)
	g.Delete("/:id", freelancerOnly, h.Delete)
	g.Get("/:id/contract", h.Contract)
	g.Get("/:id/comments", h.ListComments)
	g.Post("/:id/comments", h.AddComment)
}

type milestoneReq struct {
	Title      string  `json:"title"`
	Percentage float64 `json:"percentage"`
	Amount     int64   `json:"amount"`
	DueDate    string  `json:"dueDate"`
	Status     string  `json:"status"`
}

type projectReq struct {
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	ClientEmail         string         `json:"clientEmail"`
	HourlyRate          int64          `json:"hourlyRate"`
	EnableBillableHours bool           `json:"enableBillableHours"`
	MaxBillableHours    *float64       `json:"maxBillableHours"`
	StartDate           string         `json:"startDate"`
	EndDate             string         `json:"endDate"`
	DepositAmount       int64          `json:"depositAmount"`
	PaymentTerms        string         `json:"paymentTerms"`
	Milestones          []milestoneReq `json:"milestones"`
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. Empty is nil.
func parseDate(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, apperr.Invalid(field, "must be a date (YYYY-MM-DD)")
}

func (r projectReq) terms() (project.Terms, error) {
	t := project.Terms{
		Title:               r.Title,
		Description:         r.Description,
		HourlyRate:          r.HourlyRate,
		EnableBillableHours: r.EnableBillableHours,
		MaxBillableHours:    r.MaxBillableHours,
		DepositAmount:       r.DepositAmount,
		PaymentTerms:        r.PaymentTerms,
	}
	var err error
	if t.StartDate, err = parseDate("startDate", r.StartDate); err != nil {
		return t, err
	}
	if t.EndDate, err = parseDate("endDate", r.EndDate); err != nil {
		return t, err
	}
	for i, m := range r.Milestones {
		due, err := parseDate("milestones["+strconv.Itoa(i)+"].dueDate", m.DueDate)
		if err != nil {
			return t, err
		}
		status := models.MilestoneStatus(m.Status)
		if status == "" {
			status = models.MilestonePending
		}
		t.Milestones = append(t.Milestones, models.Milestone{
			Title:      m.Title,
			Percentage: m.Percentage,
			Amount:     m.Amount,
			DueDate:    due,
			Status:     status,
		})
	}
	return t, nil
}

func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	var req projectReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	terms, err := req.terms()
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	p, err := h.Projects.Create(ctx, project.CreateInput{
		FreelancerID: uid,
		ClientEmail:  req.ClientEmail,
		Terms:        terms,
	})
	if err != nil {
		return err
	}

	out := fiber.Map{"data": p}
	if p.ClientEmail != nil {
		inv, err := h.Invitations.Issue(ctx, invitation.IssueInput{
			ProjectID:    p.ID,
			FreelancerID: uid,
			ClientEmail:  *p.ClientEmail,
		})
		if err != nil {
			// the project stands; the freelancer can invite again from its page
			h.Log.Warn("invitation for new project failed", zap.String("project_id", p.ID.String()), zap.Error(err))
		} else {
			_, mailErr := h.Mailer.send(ctx, inv.Token)
			out["invitationId"] = inv.ID
			out["emailSent"] = mailErr == nil
		}
	}
	return ok(c, fiber.StatusCreated, out)
}

func (h *ProjectHandler) List(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	list, err := h.Projects.List(c.UserContext(), project.ListFilter{
		UserID:     uid,
		Role:       getRole(c),
		Status:     models.ProjectStatus(c.Query("status")),
		Visibility: project.Visibility(c.Query("visibility")),
	})
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": list})
}

func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.Projects.Get(c.UserContext(), id, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": p})
}

func (h *ProjectHandler) Update(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req projectReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	terms, err := req.terms()
	if err != nil {
		return err
	}
	p, err := h.Projects.Update(c.UserContext(), id, uid, terms)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": p})
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *ProjectHandler) UpdateStatus(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req statusReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	p, err := h.Projects.UpdateStatus(c.UserContext(), id, uid, models.ProjectStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": p})
}

type visibilityReq struct {
	ClientVisible *bool `json:"clientVisible"`
}

// SetVisibility archives (false) or restores (true) a project in the client's list.
func (h *ProjectHandler) SetVisibility(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req visibilityReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.ClientVisible == nil {
		return apperr.Invalid("clientVisible", "is required")
	}
	p, err := h.Projects.SetClientVisible(c.UserContext(), id, uid, *req.ClientVisible)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": p})
}

type deleteReq struct {
	ConfirmTitle string `json:"confirmTitle"`
}

// Delete permanently removes a project. The caller must echo its title.
func (h *ProjectHandler) Delete(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req deleteReq
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	if req.ConfirmTitle == "" {
		req.ConfirmTitle = c.Query("confirmTitle")
	}
	if err := h.Projects.Delete(c.UserContext(), id, uid, req.ConfirmTitle); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"message": "project deleted"})
}

func (h *ProjectHandler) Contract(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	ct, err := h.Contracts.ForProject(c.UserContext(), id, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": ct})
}

type commentReq struct {
	Body       string `json:"body"`
	Comment    string `json:"comment"`
	UpdateText string `json:"updateText"`
}

func (h *ProjectHandler) AddComment(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req commentReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	cm, err := h.Projects.AddComment(c.UserContext(), id, uid, project.CommentBody(req.Body, req.Comment, req.UpdateText))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, fiber.Map{"data": cm})
}

func (h *ProjectHandler) ListComments(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	list, err := h.Projects.ListComments(c.UserContext(), id, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": list})
}
