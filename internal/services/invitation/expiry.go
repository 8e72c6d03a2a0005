package invitation

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/metrics"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
)

const scanBatch = 200

// ScanExpired tells freelancers about invitations that lapsed while pending.
// The stored status stays pending; ExpiryNotifiedAt is claimed with a
// conditional update so each lapse is announced once even with several
// scanners running. Without a publisher nothing is claimed and the lapsed
// invitations are only counted.
func (s *Service) ScanExpired(ctx context.Context) (int, error) {
	now := s.Clock()

	var lapsed []models.Invitation
	err := s.Read(ctx, "scan expired invitations", func(q *gorm.DB) error {
		return q.Where("status = ? AND expires_at <= ? AND expiry_notified_at IS NULL",
			models.InvitationPending, now).
			Order("expires_at ASC").
			Limit(scanBatch).
			Find(&lapsed).Error
	})
	if err != nil {
		return 0, err
	}
	if !events.Enabled(s.Events) {
		if len(lapsed) > 0 {
			s.Log.Warn("expired invitations left unannounced, no event publisher",
				zap.Int("count", len(lapsed)))
		}
		return 0, nil
	}

	notified := 0
	for i := range lapsed {
		inv := &lapsed[i]
		var claimed bool
		err := s.InTx(ctx, "claim expired invitation", func(tx *gorm.DB) error {
			res := tx.Model(&models.Invitation{}).
				Where("id = ? AND status = ? AND expiry_notified_at IS NULL", inv.ID, models.InvitationPending).
				Update("expiry_notified_at", now)
			claimed = res.RowsAffected == 1
			return res.Error
		})
		if err != nil {
			return notified, err
		}
		if !claimed {
			continue
		}

		notified++
		metrics.RecordInvitation("expired")
		s.Emit(ctx, events.New(events.InvitationExpired, inv.ProjectID, map[string]any{
			"invitationId": inv.ID,
			"clientEmail":  inv.ClientEmail,
			"expiresAt":    inv.ExpiresAt,
		}, inv.FreelancerID))
	}

	if notified > 0 {
		s.Log.Info("expired invitations announced", zap.Int("count", notified))
	}
	return notified, nil
}

// CountUnannounced returns how many lapsed invitations are still waiting for
// their expiry announcement.
func (s *Service) CountUnannounced(ctx context.Context) (int64, error) {
	var n int64
	err := s.Read(ctx, "count expired invitations", func(q *gorm.DB) error {
		return q.Model(&models.Invitation{}).
			Where("status = ? AND expires_at <= ? AND expiry_notified_at IS NULL",
				models.InvitationPending, s.Clock()).
			Count(&n).Error
	})
	return n, err
}

// Worker runs ScanExpired on a cron schedule.
type Worker struct {
	svc      *Service
	schedule string
	log      *zap.Logger
}

func NewWorker(svc *Service, schedule string, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{svc: svc, schedule: schedule, log: log}
}

// Start schedules the scan and stops it when ctx is done. Overlapping runs
// are skipped.
func (w *Worker) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(w.schedule, func() {
		if _, err := w.svc.ScanExpired(ctx); err != nil {
			w.log.Error("expiry scan failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invitation: schedule %q: %w", w.schedule, err)
	}

	c.Start()
	w.log.Info("expiry worker started", zap.String("schedule", w.schedule))
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		w.log.Info("expiry worker stopped")
	}()
	return nil
}
