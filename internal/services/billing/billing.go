// Package billing issues invoices against a project's milestones or billable
// hours and records payments in the balance ledger.
package billing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/metrics"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/validation"
)

type Service struct {
	services.Deps
}

func NewService(d services.Deps) *Service {
	return &Service{Deps: d}
}

// billable loads and locks the project and checks it can be invoiced by freelancerID.
func billable(tx *gorm.DB, projectID, freelancerID uuid.UUID) (*models.Project, error) {
	var p models.Project
	if err := services.LockByID(tx, &p, projectID); err != nil {
		return nil, services.NotFound(err, "project", projectID)
	}
	if !p.IsOwner(freelancerID) {
		return nil, apperr.Forbidden("only the project owner can issue invoices")
	}
	if p.ClientID == nil {
		return nil, apperr.InvalidState("", "project %s has no client yet", p.ID)
	}
	if p.Status != models.ProjectActive && p.Status != models.ProjectCompleted {
		return nil, apperr.InvalidState(apperr.ReasonProjectClosed, "project %s is %s", p.ID, p.Status)
	}
	return &p, nil
}

type MilestoneInput struct {
	ProjectID      uuid.UUID
	FreelancerID   uuid.UUID
	MilestoneIndex int
	DueDate        *time.Time
}

// InvoiceMilestone bills one milestone. A milestone has at most one invoice
// that is not void.
func (s *Service) InvoiceMilestone(ctx context.Context, in MilestoneInput) (*models.Invoice, error) {
	var inv *models.Invoice
	err := s.InTx(ctx, "invoice milestone", func(tx *gorm.DB) error {
		p, err := billable(tx, in.ProjectID, in.FreelancerID)
		if err != nil {
			return err
		}
		if in.MilestoneIndex < 0 || in.MilestoneIndex >= len(p.Milestones) {
			return apperr.Invalid("milestoneIndex", "out of range")
		}
		m := p.Milestones[in.MilestoneIndex]
		if m.Amount <= 0 {
			return apperr.Invalid("milestoneIndex", "milestone has no amount")
		}

		var live int64
		err = tx.Model(&models.Invoice{}).
			Where("project_id = ? AND milestone_index = ? AND status <> ?", p.ID, in.MilestoneIndex, models.InvoiceVoid).
			Count(&live).Error
		if err != nil {
			return err
		}
		if live > 0 {
			return apperr.Conflict("milestone %q is already invoiced", m.Title)
		}

		idx := in.MilestoneIndex
		due := in.DueDate
		if due == nil {
			due = m.DueDate
		}
		inv = &models.Invoice{
			ProjectID:      p.ID,
			FreelancerID:   p.FreelancerID,
			ClientID:       *p.ClientID,
			MilestoneIndex: &idx,
			Description:    fmt.Sprintf("Milestone: %s", m.Title),
			Amount:         m.Amount,
			Status:         models.InvoiceSent,
			DueDate:        due,
			CreatedAt:      s.Clock(),
		}
		return createInvoice(tx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.issued(ctx, inv)
	return inv, nil
}

type HoursInput struct {
	ProjectID    uuid.UUID
	FreelancerID uuid.UUID
	Hours        float64
	Description  string
	DueDate      *time.Time
}

// InvoiceHours bills hours at the project's rate, keeping the total across
// invoices that are not void within maxBillableHours.
func (s *Service) InvoiceHours(ctx context.Context, in HoursInput) (*models.Invoice, error) {
	if err := validation.Var("hours", in.Hours, "gt=0"); err != nil {
		return nil, err
	}
	var inv *models.Invoice
	err := s.InTx(ctx, "invoice hours", func(tx *gorm.DB) error {
		p, err := billable(tx, in.ProjectID, in.FreelancerID)
		if err != nil {
			return err
		}
		if !p.EnableBillableHours {
			return apperr.InvalidState("", "billable hours are not enabled for project %s", p.ID)
		}
		if p.HourlyRate <= 0 {
			return apperr.Invalid("hourlyRate", "project has no hourly rate")
		}

		if p.MaxBillableHours != nil {
			var billed float64
			err := tx.Model(&models.Invoice{}).
				Where("project_id = ? AND milestone_index IS NULL AND status <> ?", p.ID, models.InvoiceVoid).
				Select("COALESCE(SUM(hours), 0)").Scan(&billed).Error
			if err != nil {
				return err
			}
			if billed+in.Hours > *p.MaxBillableHours+1e-9 {
				return apperr.Invalid("hours", fmt.Sprintf("exceeds the %.2f billable hour cap (%.2f already billed)", *p.MaxBillableHours, billed))
			}
		}

		desc := strings.TrimSpace(in.Description)
		if desc == "" {
			desc = fmt.Sprintf("%.2f hours", in.Hours)
		}
		inv = &models.Invoice{
			ProjectID:    p.ID,
			FreelancerID: p.FreelancerID,
			ClientID:     *p.ClientID,
			Hours:        in.Hours,
			Description:  desc,
			Amount:       int64(math.Round(in.Hours * float64(p.HourlyRate))),
			Status:       models.InvoiceSent,
			DueDate:      in.DueDate,
			CreatedAt:    s.Clock(),
		}
		return createInvoice(tx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.issued(ctx, inv)
	return inv, nil
}

func createInvoice(tx *gorm.DB, inv *models.Invoice) error {
	if err := tx.Create(inv).Error; err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

func (s *Service) issued(ctx context.Context, inv *models.Invoice) {
	metrics.Invoices.WithLabelValues("issued").Inc()
	s.Log.Info("invoice issued",
		zap.String("invoice", inv.Number),
		zap.String("project_id", inv.ProjectID.String()),
		zap.Int64("amount", inv.Amount),
	)
	s.Emit(ctx, events.New(events.InvoiceIssued, inv.ProjectID, map[string]any{
		"invoiceId": inv.ID,
		"number":    inv.Number,
		"amount":    inv.Amount,
	}, inv.ClientID))
}

func memberInvoice(tx *gorm.DB, invoiceID, userID uuid.UUID, lock bool) (*models.Invoice, error) {
	var inv models.Invoice
	var err error
	if lock {
		err = services.LockByID(tx, &inv, invoiceID)
	} else {
		err = tx.First(&inv, "id = ?", invoiceID).Error
	}
	if err != nil {
		return nil, services.NotFound(err, "invoice", invoiceID)
	}
	if inv.FreelancerID != userID && inv.ClientID != userID {
		return nil, apperr.Forbidden("not a party to invoice %s", inv.Number)
	}
	return &inv, nil
}

// MarkPaid records the client's payment of an invoice and credits the
// freelancer. Paying an already paid invoice returns it unchanged.
func (s *Service) MarkPaid(ctx context.Context, invoiceID, userID uuid.UUID) (*models.Invoice, error) {
	var (
		inv     *models.Invoice
		changed bool
	)
	err := s.InTx(ctx, "mark invoice paid", func(tx *gorm.DB) error {
		var err error
		changed = false
		inv, err = memberInvoice(tx, invoiceID, userID, true)
		if err != nil {
			return err
		}
		if inv.ClientID != userID {
			return apperr.Forbidden("only the client can pay invoice %s", inv.Number)
		}
		switch inv.Status {
		case models.InvoicePaid:
			return nil
		case models.InvoiceVoid:
			return apperr.InvalidState("", "invoice %s is void", inv.Number)
		}

		now := s.Clock()
		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND status = ?", inv.ID, models.InvoiceSent).
			Updates(map[string]any{"status": models.InvoicePaid, "paid_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return apperr.InvalidState("", "invoice %s changed concurrently", inv.Number)
		}
		inv.Status = models.InvoicePaid
		inv.PaidAt = &now

		if err := credit(tx, inv.FreelancerID, inv.Amount, inv, "Payment for invoice "+inv.Number); err != nil {
			return err
		}
		if inv.MilestoneIndex != nil {
			if err := completeMilestone(tx, inv.ProjectID, *inv.MilestoneIndex); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.Invoices.WithLabelValues("paid").Inc()
		s.Log.Info("invoice paid", zap.String("invoice", inv.Number), zap.Int64("amount", inv.Amount))
		s.Emit(ctx, events.New(events.InvoicePaid, inv.ProjectID, map[string]any{
			"invoiceId": inv.ID,
			"number":    inv.Number,
			"amount":    inv.Amount,
		}, inv.FreelancerID, inv.ClientID))
	}
	return inv, nil
}

func completeMilestone(tx *gorm.DB, projectID uuid.UUID, idx int) error {
	var p models.Project
	if err := tx.Select("id", "milestones").First(&p, "id = ?", projectID).Error; err != nil {
		return err
	}
	if idx < 0 || idx >= len(p.Milestones) {
		return nil
	}
	p.Milestones[idx].Status = models.MilestoneCompleted
	return tx.Model(&models.Project{}).Where("id = ?", projectID).Update("milestones", p.Milestones).Error
}

// Void cancels an unpaid invoice, freeing its milestone or hours.
func (s *Service) Void(ctx context.Context, invoiceID, freelancerID uuid.UUID) (*models.Invoice, error) {
	var inv *models.Invoice
	err := s.InTx(ctx, "void invoice", func(tx *gorm.DB) error {
		var err error
		inv, err = memberInvoice(tx, invoiceID, freelancerID, true)
		if err != nil {
			return err
		}
		if inv.FreelancerID != freelancerID {
			return apperr.Forbidden("only the issuing freelancer can void an invoice")
		}
		switch inv.Status {
		case models.InvoiceVoid:
			return nil
		case models.InvoicePaid:
			return apperr.InvalidState("", "invoice %s is already paid", inv.Number)
		}
		inv.Status = models.InvoiceVoid
		return tx.Model(&models.Invoice{}).Where("id = ?", inv.ID).Update("status", models.InvoiceVoid).Error
	})
	if err != nil {
		return nil, err
	}
	metrics.Invoices.WithLabelValues("void").Inc()
	return inv, nil
}

// List returns a project's invoices, newest first.
func (s *Service) List(ctx context.Context, projectID, userID uuid.UUID) ([]models.Invoice, error) {
	var out []models.Invoice
	err := s.Read(ctx, "list invoices", func(q *gorm.DB) error {
		var p models.Project
		if err := q.First(&p, "id = ?", projectID).Error; err != nil {
			return services.NotFound(err, "project", projectID)
		}
		if !p.IsMember(userID) {
			return apperr.Forbidden("not a member of project %s", projectID)
		}
		return q.Where("project_id = ?", projectID).Order("created_at DESC").Find(&out).Error
	})
	return out, err
}

type Summary struct {
	Paid             int64 `json:"paid"`
	Outstanding      int64 `json:"outstanding"`
	Overdue          int64 `json:"overdue"`
	PaidCount        int64 `json:"paidCount"`
	OutstandingCount int64 `json:"outstandingCount"`
	Balance          int64 `json:"balance"`
}

// Summary totals the invoices a user is party to. For freelancers Paid is
// earnings; for clients it is spend.
func (s *Service) Summary(ctx context.Context, userID uuid.UUID) (Summary, error) {
	var out Summary
	now := s.Clock()
	err := s.Read(ctx, "invoice summary", func(q *gorm.DB) error {
		var u models.User
		if err := q.First(&u, "id = ?", userID).Error; err != nil {
			return services.NotFound(err, "user", userID)
		}
		out.Balance = u.Balance
		col := "client_id"
		if u.Role == models.RoleFreelancer {
			col = "freelancer_id"
		}

		var invoices []models.Invoice
		if err := q.Where(col+" = ? AND status <> ?", userID, models.InvoiceVoid).Find(&invoices).Error; err != nil {
			return err
		}
		for _, inv := range invoices {
			switch inv.Status {
			case models.InvoicePaid:
				out.Paid += inv.Amount
				out.PaidCount++
			case models.InvoiceSent:
				out.Outstanding += inv.Amount
				out.OutstandingCount++
				if inv.DueDate != nil && inv.DueDate.Before(now) {
					out.Overdue += inv.Amount
				}
			}
		}
		return nil
	})
	return out, err
}
