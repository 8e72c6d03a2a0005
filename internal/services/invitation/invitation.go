// Package invitation runs the invitation lifecycle. Stored states are
// pending, accepted and rejected; expired is derived from ExpiresAt on every
// read and inside accept and reject, so a stale stored status is never trusted.
package invitation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/metrics"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/contract"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/utils"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/validation"
)

const (
	DefaultTTL = 7 * 24 * time.Hour
	tokenBytes = 32
)

type Service struct {
	services.Deps
	TTL time.Duration
}

func NewService(d services.Deps, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{Deps: d, TTL: ttl}
}

// withEffectiveStatus replaces the stored status with the one callers act on.
func (s *Service) withEffectiveStatus(inv *models.Invitation) *models.Invitation {
	inv.Status = inv.EffectiveStatus(s.Clock())
	return inv
}

type IssueInput struct {
	ProjectID    uuid.UUID
	FreelancerID uuid.UUID
	ClientEmail  string
}

// Issue creates a pending invitation for the project. At most one live
// pending invitation exists per project and client email; the project row
// is locked while that is checked.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*models.Invitation, error) {
	email := models.NormalizeEmail(in.ClientEmail)
	if !validation.Email(email) {
		return nil, apperr.Invalid("clientEmail", "must be a valid email address")
	}

	var inv *models.Invitation
	err := s.InTx(ctx, "issue invitation", func(tx *gorm.DB) error {
		now := s.Clock()

		var p models.Project
		if err := services.LockByID(tx, &p, in.ProjectID); err != nil {
			return services.NotFound(err, "project", in.ProjectID)
		}
		if !p.IsOwner(in.FreelancerID) {
			return apperr.Forbidden("only the project owner can invite a client")
		}
		if p.ClientID != nil {
			return apperr.InvalidState(apperr.ReasonClientBound, "project %s already has a client", p.ID)
		}
		if !p.Open() {
			return apperr.InvalidState(apperr.ReasonProjectClosed, "project %s is %s", p.ID, p.Status)
		}

		var live int64
		err := tx.Model(&models.Invitation{}).
			Where("project_id = ? AND client_email = ? AND status = ? AND expires_at > ?",
				p.ID, email, models.InvitationPending, now).
			Count(&live).Error
		if err != nil {
			return err
		}
		if live > 0 {
			return apperr.Conflict("a pending invitation for %s already exists on this project", email)
		}

		token, err := utils.NewToken(tokenBytes)
		if err != nil {
			return err
		}
		inv = &models.Invitation{
			Token:        token,
			ProjectID:    p.ID,
			FreelancerID: p.FreelancerID,
			ClientEmail:  email,
			Status:       models.InvitationPending,
			ExpiresAt:    now.Add(s.TTL),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.Create(inv).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordInvitation("issued")
	s.Log.Info("invitation issued",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("project_id", inv.ProjectID.String()),
		zap.Time("expires_at", inv.ExpiresAt),
	)
	s.Emit(ctx, events.New(events.InvitationCreated, inv.ProjectID, map[string]any{
		"invitationId": inv.ID,
		"clientEmail":  inv.ClientEmail,
	}, inv.FreelancerID))
	return inv, nil
}

// Get returns the invitation with its effective status.
func (s *Service) Get(ctx context.Context, token string) (*models.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Invalid("token", "is required")
	}
	var inv models.Invitation
	err := s.Read(ctx, "get invitation", func(q *gorm.DB) error {
		err := q.First(&inv, "token = ?", token).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("invitation not found")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.withEffectiveStatus(&inv), nil
}

// ProjectView is what an invited client sees before deciding.
type ProjectView struct {
	Invitation *models.Invitation
	Project    *models.Project
	Freelancer models.UserSummary
}

func (s *Service) ProjectView(ctx context.Context, token string) (*ProjectView, error) {
	inv, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	var p models.Project
	err = s.Read(ctx, "get invitation project", func(q *gorm.DB) error {
		return services.NotFound(q.Preload("Freelancer").First(&p, "id = ?", inv.ProjectID).Error, "project", inv.ProjectID)
	})
	if err != nil {
		return nil, err
	}
	view := &ProjectView{Invitation: inv, Project: &p}
	if p.Freelancer != nil {
		view.Freelancer = p.Freelancer.Summary()
	}
	return view, nil
}

// CheckClient reports whether a client account exists for email.
func (s *Service) CheckClient(ctx context.Context, email string) (*models.UserSummary, error) {
	email = models.NormalizeEmail(email)
	if !validation.Email(email) {
		return nil, apperr.Invalid("email", "must be a valid email address")
	}
	var u models.User
	err := s.Read(ctx, "check client", func(q *gorm.DB) error {
		return q.Where("email = ? AND role = ?", email, models.RoleClient).First(&u).Error
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sum := u.Summary()
	return &sum, nil
}

func (s *Service) ListForProject(ctx context.Context, projectID, freelancerID uuid.UUID) ([]models.Invitation, error) {
	var out []models.Invitation
	err := s.Read(ctx, "list invitations", func(q *gorm.DB) error {
		var p models.Project
		if err := q.First(&p, "id = ?", projectID).Error; err != nil {
			return services.NotFound(err, "project", projectID)
		}
		if !p.IsOwner(freelancerID) {
			return apperr.Forbidden("only the project owner can list invitations")
		}
		return q.Where("project_id = ?", projectID).Order("created_at DESC").Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		s.withEffectiveStatus(&out[i])
	}
	return out, nil
}

// resolvable checks a locked invitation can still be accepted or rejected.
func resolvable(inv *models.Invitation, now time.Time) error {
	switch inv.EffectiveStatus(now) {
	case models.InvitationPending:
		return nil
	case models.InvitationExpired:
		return apperr.InvalidState(apperr.ReasonExpired, "invitation expired at %s", inv.ExpiresAt.Format(time.RFC3339))
	case models.InvitationAccepted:
		return apperr.InvalidState(apperr.ReasonAlreadyAccepted, "invitation was already accepted")
	default:
		return apperr.InvalidState(apperr.ReasonAlreadyRejected, "invitation was already rejected")
	}
}

// transition moves a pending invitation to a terminal status. The WHERE on
// status makes it a compare-and-swap: a concurrent resolver that got there
// first leaves zero rows to update.
func transition(tx *gorm.DB, inv *models.Invitation, to models.InvitationStatus, now time.Time, extra map[string]any) error {
	cols := map[string]any{"status": to, "responded_at": now, "updated_at": now}
	for k, v := range extra {
		cols[k] = v
	}
	res := tx.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", inv.ID, models.InvitationPending).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return apperr.InvalidState("", "invitation was resolved concurrently")
	}
	inv.Status = to
	inv.RespondedAt = &now
	return nil
}

// closeSiblings rejects the project's other live pending invitations once
// one of them is accepted. Lapsed ones keep reading as expired.
func closeSiblings(tx *gorm.DB, inv *models.Invitation, now time.Time) (int64, error) {
	res := tx.Model(&models.Invitation{}).
		Where("project_id = ? AND id <> ? AND status = ? AND expires_at > ?",
			inv.ProjectID, inv.ID, models.InvitationPending, now).
		Updates(map[string]any{
			"status":       models.InvitationRejected,
			"responded_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func lockByToken(tx *gorm.DB, token string) (*models.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Invalid("token", "is required")
	}
	var inv models.Invitation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&inv, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("invitation not found")
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

type AcceptResult struct {
	Invitation *models.Invitation `json:"invitation"`
	Contract   *models.Contract   `json:"contract"`
	Project    *models.Project    `json:"project"`
	Superseded int64              `json:"supersededInvitations"`
}

// Accept resolves the invitation for clientID. In one transaction it marks
// the invitation accepted, generates the contract and binds the project to
// the client; either all of it commits or none does. Other pending
// invitations for the project are rejected in the same transaction. The
// project waits in pending_approval until the client countersigns the
// contract.
func (s *Service) Accept(ctx context.Context, token string, clientID uuid.UUID) (*AcceptResult, error) {
	var out AcceptResult
	err := s.InTx(ctx, "accept invitation", func(tx *gorm.DB) error {
		now := s.Clock()

		inv, err := lockByToken(tx, token)
		if err != nil {
			return err
		}
		if err := resolvable(inv, now); err != nil {
			return err
		}

		var client models.User
		if err := tx.First(&client, "id = ?", clientID).Error; err != nil {
			return services.NotFound(err, "user", clientID)
		}
		if client.Role != models.RoleClient {
			return apperr.Forbidden("only client accounts can accept invitations")
		}
		if models.NormalizeEmail(client.Email) != inv.ClientEmail {
			return apperr.Forbidden("invitation was sent to a different email address")
		}

		if err := transition(tx, inv, models.InvitationAccepted, now, map[string]any{"client_id": clientID}); err != nil {
			return err
		}
		inv.ClientID = &clientID

		var p models.Project
		if err := services.LockByID(tx, &p, inv.ProjectID); err != nil {
			return services.NotFound(err, "project", inv.ProjectID)
		}
		if p.ClientID != nil {
			return apperr.InvalidState(apperr.ReasonClientBound, "project %s already has a client", p.ID)
		}
		if !p.Open() {
			return apperr.InvalidState(apperr.ReasonProjectClosed, "project %s is %s", p.ID, p.Status)
		}

		var freelancer models.User
		if err := tx.First(&freelancer, "id = ?", p.FreelancerID).Error; err != nil {
			return services.NotFound(err, "user", p.FreelancerID)
		}

		c, err := contract.Generate(tx, &p, &freelancer, inv, clientID, now)
		if err != nil {
			return err
		}

		email := inv.ClientEmail
		err = tx.Model(&models.Project{}).Where("id = ?", p.ID).Updates(map[string]any{
			"client_id":      clientID,
			"client_email":   email,
			"client_visible": true,
			"status":         models.ProjectPendingApproval,
			"updated_at":     now,
		}).Error
		if err != nil {
			return err
		}
		p.ClientID = &clientID
		p.ClientEmail = &email
		p.ClientVisible = true
		p.Status = models.ProjectPendingApproval

		closed, err := closeSiblings(tx, inv, now)
		if err != nil {
			return err
		}

		out = AcceptResult{Invitation: inv, Contract: c, Project: &p, Superseded: closed}
		return nil
	})
	if err != nil {
		s.recordRefusal(err, "accept")
		return nil, err
	}

	metrics.RecordInvitation("accepted")
	if out.Superseded > 0 {
		metrics.InvitationTransitions.WithLabelValues("superseded").Add(float64(out.Superseded))
	}
	s.Log.Info("invitation accepted",
		zap.String("invitation_id", out.Invitation.ID.String()),
		zap.String("project_id", out.Project.ID.String()),
		zap.String("contract_id", out.Contract.ID.String()),
		zap.Int64("superseded", out.Superseded),
	)
	s.Emit(ctx, events.New(events.InvitationAccepted, out.Project.ID, map[string]any{
		"invitationId": out.Invitation.ID,
		"contractId":   out.Contract.ID,
	}, out.Project.FreelancerID, clientID))
	return &out, nil
}

// Reject resolves the invitation as declined. The project is not touched.
func (s *Service) Reject(ctx context.Context, token string) (*models.Invitation, error) {
	var inv *models.Invitation
	err := s.InTx(ctx, "reject invitation", func(tx *gorm.DB) error {
		now := s.Clock()

		var err error
		inv, err = lockByToken(tx, token)
		if err != nil {
			return err
		}
		if err := resolvable(inv, now); err != nil {
			return err
		}
		return transition(tx, inv, models.InvitationRejected, now, nil)
	})
	if err != nil {
		s.recordRefusal(err, "reject")
		return nil, err
	}

	metrics.RecordInvitation("rejected")
	s.Log.Info("invitation rejected",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("project_id", inv.ProjectID.String()),
	)
	s.Emit(ctx, events.New(events.InvitationRejected, inv.ProjectID, map[string]any{
		"invitationId": inv.ID,
		"clientEmail":  inv.ClientEmail,
	}, inv.FreelancerID))
	return inv, nil
}

func (s *Service) recordRefusal(err error, op string) {
	if apperr.KindOf(err) != apperr.KindInvalidState {
		return
	}
	s.Log.Info("invitation not resolvable",
		zap.String("op", op),
		zap.String("reason", apperr.ReasonOf(err)),
	)
}
