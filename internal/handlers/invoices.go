package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/billing"
)

type InvoiceHandler struct {
	Billing *billing.Service
}

func (h *InvoiceHandler) Routes(r fiber.Router, auth fiber.Handler) {
	r.Post("/projects/:id/invoices", auth, freelancerOnly, h.Create)
	r.Get("/projects/:id/invoices", auth, h.List)
	r.Post("/invoices/:id/pay", auth, clientOnly, h.MarkPaid)
	r.Post("/invoices/:id/void", auth, freelancerOnly, h.Void)
	r.Get("/finance/summary", auth, h.Summary)
	r.Get("/finance/ledger", auth, h.Ledger)
}

// invoiceReq bills a milestone when milestoneIndex is set, hours otherwise.
type invoiceReq struct {
	MilestoneIndex *int    `json:"milestoneIndex"`
	Hours          float64 `json:"hours"`
	Description    string  `json:"description"`
	DueDate        string  `json:"dueDate"`
}

func (h *InvoiceHandler) Create(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	projectID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req invoiceReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	due, err := parseDate("dueDate", req.DueDate)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	switch {
	case req.MilestoneIndex != nil && req.Hours > 0:
		return apperr.Invalid("hours", "cannot be combined with milestoneIndex")
	case req.MilestoneIndex != nil:
		inv, err := h.Billing.InvoiceMilestone(ctx, billing.MilestoneInput{
			ProjectID:      projectID,
			FreelancerID:   uid,
			MilestoneIndex: *req.MilestoneIndex,
			DueDate:        due,
		})
		if err != nil {
			return err
		}
		return ok(c, fiber.StatusCreated, fiber.Map{"data": inv})
	default:
		inv, err := h.Billing.InvoiceHours(ctx, billing.HoursInput{
			ProjectID:    projectID,
			FreelancerID: uid,
			Hours:        req.Hours,
			Description:  req.Description,
			DueDate:      due,
		})
		if err != nil {
			return err
		}
		return ok(c, fiber.StatusCreated, fiber.Map{"data": inv})
	}
}

func (h *InvoiceHandler) List(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	projectID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	list, err := h.Billing.List(c.UserContext(), projectID, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": list})
}

func (h *InvoiceHandler) MarkPaid(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.Billing.MarkPaid(c.UserContext(), id, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": inv})
}

func (h *InvoiceHandler) Void(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.Billing.Void(c.UserContext(), id, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": inv})
}

func (h *InvoiceHandler) Summary(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	sum, err := h.Billing.Summary(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": sum})
}

func (h *InvoiceHandler) Ledger(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	entries, err := h.Billing.Ledger(c.UserContext(), uid, c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": entries})
}
