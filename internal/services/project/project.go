// Package project owns project records: creation with milestone plans,
// member-scoped reads, term edits, status transitions, archiving and the
// confirmed hard delete.
package project

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
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/validation"
)

// MilestoneTolerance absorbs float rounding when percentages are summed.
const MilestoneTolerance = 0.01

type Service struct {
	services.Deps
}

func NewService(d services.Deps) *Service {
	return &Service{Deps: d}
}

// Terms are the freelancer-editable parts of a project. A contract copies
// them at acceptance time.
type Terms struct {
	Title               string             `json:"title" validate:"notblank"`
	Description         string             `json:"description"`
	HourlyRate          int64              `json:"hourlyRate" validate:"gte=0"`
	EnableBillableHours bool               `json:"enableBillableHours"`
	MaxBillableHours    *float64           `json:"maxBillableHours" validate:"omitnil,gt=0"`
	StartDate           *time.Time         `json:"startDate"`
	EndDate             *time.Time         `json:"endDate"`
	DepositAmount       int64              `json:"depositAmount" validate:"gte=0"`
	PaymentTerms        string             `json:"paymentTerms"`
	Milestones          []models.Milestone `json:"milestones" validate:"dive"`
}

type CreateInput struct {
	FreelancerID uuid.UUID
	ClientEmail  string
	Terms
}

type milestonePlan struct {
	Milestones []models.Milestone `json:"milestones" validate:"dive"`
}

// ValidateMilestones checks a milestone plan. An empty plan is allowed;
// otherwise every percentage is positive and the total is 100.
func ValidateMilestones(ms []models.Milestone) error {
	fields, err := validation.Fields(milestonePlan{Milestones: ms})
	if err != nil {
		return err
	}
	checkMilestoneTotal(ms, fields)
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

func checkMilestoneTotal(ms []models.Milestone, fields map[string]string) {
	if len(ms) == 0 {
		return
	}
	var total float64
	for _, m := range ms {
		total += m.Percentage
	}
	if math.Abs(total-100) > MilestoneTolerance {
		fields["milestones"] = fmt.Sprintf("percentages must sum to 100, got %g", total)
	}
}

func (t *Terms) normalize() {
	t.Title = strings.TrimSpace(t.Title)
	t.Description = strings.TrimSpace(t.Description)
	t.PaymentTerms = strings.TrimSpace(t.PaymentTerms)
	for i := range t.Milestones {
		t.Milestones[i].Title = strings.TrimSpace(t.Milestones[i].Title)
		if t.Milestones[i].Status == "" {
			t.Milestones[i].Status = models.MilestonePending
		}
	}
}

func (t Terms) validate() error {
	fields, err := validation.Fields(t)
	if err != nil {
		return err
	}
	// both dates are optional, so gtefield cannot express the ordering
	if t.StartDate != nil && t.EndDate != nil && t.EndDate.Before(*t.StartDate) {
		fields["endDate"] = "must not be before startDate"
	}
	checkMilestoneTotal(t.Milestones, fields)
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Project, error) {
	in.Terms.normalize()
	if err := in.Terms.validate(); err != nil {
		return nil, err
	}

	var clientEmail *string
	if e := models.NormalizeEmail(in.ClientEmail); e != "" {
		if !validation.Email(e) {
			return nil, apperr.Invalid("clientEmail", "must be a valid email address")
		}
		clientEmail = &e
	}

	p := &models.Project{
		FreelancerID: in.FreelancerID,
		ClientEmail:  clientEmail,
		Status:       models.ProjectActive,
	}
	if clientEmail != nil {
		p.Status = models.ProjectPendingApproval
	}
	applyTerms(p, in.Terms)

	err := s.InTx(ctx, "create project", func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.First(&owner, "id = ?", in.FreelancerID).Error; err != nil {
			return services.NotFound(err, "user", in.FreelancerID)
		}
		if owner.Role != models.RoleFreelancer {
			return apperr.Forbidden("only freelancers can create projects")
		}
		return tx.Create(p).Error
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("project created",
		zap.String("project_id", p.ID.String()),
		zap.String("freelancer_id", p.FreelancerID.String()),
		zap.String("status", string(p.Status)),
	)
	return p, nil
}

func applyTerms(p *models.Project, t Terms) {
	p.Title = t.Title
	p.Description = t.Description
	p.HourlyRate = t.HourlyRate
	p.EnableBillableHours = t.EnableBillableHours
	p.MaxBillableHours = t.MaxBillableHours
	p.StartDate = t.StartDate
	p.EndDate = t.EndDate
	p.DepositAmount = t.DepositAmount
	p.PaymentTerms = t.PaymentTerms
	p.Milestones = t.Milestones
}

// Get returns a project visible to userID, with the freelancer preloaded.
func (s *Service) Get(ctx context.Context, id, userID uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := s.Read(ctx, "get project", func(q *gorm.DB) error {
		return services.NotFound(q.Preload("Freelancer").First(&p, "id = ?", id).Error, "project", id)
	})
	if err != nil {
		return nil, err
	}
	if !p.IsMember(userID) {
		return nil, apperr.Forbidden("not a member of project %s", id)
	}
	return &p, nil
}

type Visibility string

const (
	VisibleOnly  Visibility = "active"
	ArchivedOnly Visibility = "archived"
	AllProjects  Visibility = "all"
)

type ListFilter struct {
	UserID     uuid.UUID
	Role       models.Role
	Status     models.ProjectStatus
	Visibility Visibility
}

// List returns the caller's projects: owned ones for freelancers, bound ones
// for clients. Clients see archived projects only when asked.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.Project, error) {
	var out []models.Project
	err := s.Read(ctx, "list projects", func(q *gorm.DB) error {
		q = q.Model(&models.Project{}).Preload("Freelancer").Order("created_at DESC")
		switch f.Role {
		case models.RoleFreelancer:
			q = q.Where("freelancer_id = ?", f.UserID)
		case models.RoleClient:
			q = q.Where("client_id = ?", f.UserID)
			switch f.Visibility {
			case ArchivedOnly:
				q = q.Where("client_visible = ?", false)
			case AllProjects:
			default:
				q = q.Where("client_visible = ?", true)
			}
		default:
			return apperr.Forbidden("role %q cannot list projects", f.Role)
		}
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		return q.Find(&out).Error
	})
	return out, err
}

// Update replaces the project's terms. Existing contracts keep their snapshot.
func (s *Service) Update(ctx context.Context, id, freelancerID uuid.UUID, t Terms) (*models.Project, error) {
	t.normalize()
	if err := t.validate(); err != nil {
		return nil, err
	}

	var p models.Project
	err := s.InTx(ctx, "update project", func(tx *gorm.DB) error {
		if err := services.LockByID(tx, &p, id); err != nil {
			return services.NotFound(err, "project", id)
		}
		if !p.IsOwner(freelancerID) {
			return apperr.Forbidden("only the owner can edit project %s", id)
		}
		if p.Status == models.ProjectCancelled || p.Status == models.ProjectRejected {
			return apperr.InvalidState(apperr.ReasonProjectClosed, "project %s is %s", id, p.Status)
		}
		applyTerms(&p, t)
		return tx.Save(&p).Error
	})
	if err != nil {
		return nil, err
	}

	s.emitUpdated(ctx, &p, "terms")
	return &p, nil
}

var validTransitions = map[models.ProjectStatus][]models.ProjectStatus{
	models.ProjectActive:          {models.ProjectCompleted, models.ProjectCancelled},
	models.ProjectPendingApproval: {models.ProjectCancelled, models.ProjectRejected},
	models.ProjectCompleted:       {models.ProjectActive},
}

func canTransition(from, to models.ProjectStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateStatus applies a freelancer-driven status change.
func (s *Service) UpdateStatus(ctx context.Context, id, freelancerID uuid.UUID, to models.ProjectStatus) (*models.Project, error) {
	var p models.Project
	err := s.InTx(ctx, "update project status", func(tx *gorm.DB) error {
		if err := services.LockByID(tx, &p, id); err != nil {
			return services.NotFound(err, "project", id)
		}
		if !p.IsOwner(freelancerID) {
			return apperr.Forbidden("only the owner can change project %s", id)
		}
		if !canTransition(p.Status, to) {
			return apperr.InvalidState("", "project %s cannot move from %s to %s", id, p.Status, to)
		}
		p.Status = to
		return tx.Model(&p).Update("status", to).Error
	})
	if err != nil {
		return nil, err
	}

	s.emitUpdated(ctx, &p, "status")
	return &p, nil
}

// SetClientVisible archives (false) or restores (true) a project in the
// client's list. Clients may do both; the freelancer may only restore.
func (s *Service) SetClientVisible(ctx context.Context, id, userID uuid.UUID, visible bool) (*models.Project, error) {
	var p models.Project
	err := s.InTx(ctx, "set client visibility", func(tx *gorm.DB) error {
		if err := services.LockByID(tx, &p, id); err != nil {
			return services.NotFound(err, "project", id)
		}
		switch {
		case p.IsClient(userID):
		case p.IsOwner(userID) && visible:
		default:
			return apperr.Forbidden("cannot change visibility of project %s", id)
		}
		if p.ClientID == nil {
			return apperr.InvalidState("", "project %s has no client yet", id)
		}
		p.ClientVisible = visible
		return tx.Model(&p).Updates(map[string]any{"client_visible": visible}).Error
	})
	if err != nil {
		return nil, err
	}

	s.emitUpdated(ctx, &p, "visibility")
	return &p, nil
}

// Delete permanently removes a project and everything hanging off it except
// the ledger. confirmTitle must repeat the project title exactly.
func (s *Service) Delete(ctx context.Context, id, freelancerID uuid.UUID, confirmTitle string) error {
	var p models.Project
	err := s.InTx(ctx, "delete project", func(tx *gorm.DB) error {
		if err := services.LockByID(tx, &p, id); err != nil {
			return services.NotFound(err, "project", id)
		}
		if !p.IsOwner(freelancerID) {
			return apperr.Forbidden("only the owner can delete project %s", id)
		}
		if strings.TrimSpace(confirmTitle) != p.Title {
			return apperr.Invalid("confirmTitle", "must match the project title")
		}

		children := []any{
			&models.ProgressUpdate{},
			&models.Task{},
			&models.ProjectComment{},
			&models.Invoice{},
			&models.Contract{},
			&models.Invitation{},
		}
		for _, m := range children {
			if err := tx.Where("project_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Project{}, "id = ?", id).Error
	})
	if err != nil {
		return err
	}

	s.Log.Warn("project deleted",
		zap.String("project_id", id.String()),
		zap.String("freelancer_id", freelancerID.String()),
	)
	var client uuid.UUID
	if p.ClientID != nil {
		client = *p.ClientID
	}
	s.Emit(ctx, events.New(events.ProjectDeleted, id, map[string]any{"title": p.Title}, client))
	return nil
}

func (s *Service) emitUpdated(ctx context.Context, p *models.Project, field string) {
	var client uuid.UUID
	if p.ClientID != nil {
		client = *p.ClientID
	}
	s.Emit(ctx, events.New(events.ProjectUpdated, p.ID, map[string]any{
		"field":         field,
		"status":        p.Status,
		"clientVisible": p.ClientVisible,
	}, p.FreelancerID, client))
}
