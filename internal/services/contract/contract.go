// Package contract generates contracts from accepted invitations and records
// the client's counter-signature.
package contract

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/db"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/metrics"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services"
)

const maxSignatureLen = 200

// Generate inserts the contract for an accepted invitation inside tx. The
// project terms are copied, so later project edits do not change the
// contract. The freelancer is signed in at creation.
func Generate(tx *gorm.DB, p *models.Project, freelancer *models.User, inv *models.Invitation, clientID uuid.UUID, now time.Time) (*models.Contract, error) {
	milestones := make([]models.Milestone, len(p.Milestones))
	copy(milestones, p.Milestones)

	signature := freelancer.Name
	signedAt := now
	c := &models.Contract{
		ProjectID:           p.ID,
		InvitationID:        inv.ID,
		FreelancerID:        p.FreelancerID,
		ClientID:            clientID,
		Scope:               p.Description,
		HourlyRate:          p.HourlyRate,
		StartDate:           p.StartDate,
		EndDate:             p.EndDate,
		DepositAmount:       p.DepositAmount,
		PaymentTerms:        p.PaymentTerms,
		Milestones:          milestones,
		FreelancerSignature: &signature,
		FreelancerSignedAt:  &signedAt,
	}
	if err := tx.Create(c).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.InvalidState(apperr.ReasonAlreadyAccepted, "project %s already has a contract", p.ID)
		}
		return nil, err
	}
	return c, nil
}

type Service struct {
	services.Deps
}

func NewService(d services.Deps) *Service {
	return &Service{Deps: d}
}

// Get returns a contract to either party.
func (s *Service) Get(ctx context.Context, id, userID uuid.UUID) (*models.Contract, error) {
	var c models.Contract
	err := s.Read(ctx, "get contract", func(q *gorm.DB) error {
		return services.NotFound(q.First(&c, "id = ?", id).Error, "contract", id)
	})
	if err != nil {
		return nil, err
	}
	if c.FreelancerID != userID && c.ClientID != userID {
		return nil, apperr.Forbidden("not a party to contract %s", id)
	}
	return &c, nil
}

// ForProject returns the project's contract, NotFound until an invitation is accepted.
func (s *Service) ForProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Contract, error) {
	var c models.Contract
	err := s.Read(ctx, "get project contract", func(q *gorm.DB) error {
		return services.NotFound(q.First(&c, "project_id = ?", projectID).Error, "contract for project", projectID)
	})
	if err != nil {
		return nil, err
	}
	if c.FreelancerID != userID && c.ClientID != userID {
		return nil, apperr.Forbidden("not a party to contract %s", c.ID)
	}
	return &c, nil
}

type SignInput struct {
	ContractID uuid.UUID
	ClientID   uuid.UUID
	// Signature is the typed name. Empty means the client's account name.
	Signature string
}

// Sign records the client's signature once. A second attempt fails with
// AlreadySigned and leaves the first signature and timestamp untouched.
// A project waiting on approval becomes active.
func (s *Service) Sign(ctx context.Context, in SignInput) (*models.Contract, error) {
	sig := strings.TrimSpace(in.Signature)
	if utf8.RuneCountInString(sig) > maxSignatureLen {
		return nil, apperr.Invalid("signature", "must be at most 200 characters")
	}

	var c models.Contract
	var activated bool
	err := s.InTx(ctx, "sign contract", func(tx *gorm.DB) error {
		activated = false
		if err := services.LockByID(tx, &c, in.ContractID); err != nil {
			return services.NotFound(err, "contract", in.ContractID)
		}
		if c.ClientID != in.ClientID {
			return apperr.Forbidden("contract %s belongs to another client", in.ContractID)
		}
		if c.ClientSignature != nil {
			return apperr.AlreadySigned("contract %s was signed at %s", c.ID, c.ClientSignedAt.Format(time.RFC3339))
		}

		if sig == "" {
			var client models.User
			if err := tx.First(&client, "id = ?", in.ClientID).Error; err != nil {
				return services.NotFound(err, "user", in.ClientID)
			}
			sig = client.Name
		}

		now := s.Clock()
		res := tx.Model(&models.Contract{}).
			Where("id = ? AND client_signature IS NULL", c.ID).
			Updates(map[string]any{"client_signature": sig, "client_signed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return apperr.AlreadySigned("contract %s is already signed", c.ID)
		}
		c.ClientSignature = &sig
		c.ClientSignedAt = &now

		res = tx.Model(&models.Project{}).
			Where("id = ? AND status = ?", c.ProjectID, models.ProjectPendingApproval).
			Update("status", models.ProjectActive)
		if res.Error != nil {
			return res.Error
		}
		activated = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ContractsSigned.Inc()
	s.Log.Info("contract signed",
		zap.String("contract_id", c.ID.String()),
		zap.String("project_id", c.ProjectID.String()),
		zap.Bool("project_activated", activated),
	)
	s.Emit(ctx, events.New(events.ContractSigned, c.ProjectID, map[string]any{
		"contractId":       c.ID,
		"projectActivated": activated,
	}, c.FreelancerID, c.ClientID))
	return &c, nil
}
