package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/testutil"
)

type fixture struct {
	db         *gorm.DB
	svc        *Service
	clock      *testutil.Clock
	rec        *testutil.Recorder
	freelancer *models.User
	client     *models.User
	project    *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.OpenDB(t)
	clock := testutil.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	rec := &testutil.Recorder{}
	f := &fixture{
		db:         gdb,
		svc:        NewService(services.NewDeps(gdb, services.Deps{Now: clock.Now, Events: rec})),
		clock:      clock,
		rec:        rec,
		freelancer: testutil.CreateUser(t, gdb, models.RoleFreelancer, "Fran Lancer", "fran@example.com"),
		client:     testutil.CreateUser(t, gdb, models.RoleClient, "Cli Ent", "client@example.com"),
	}
	f.project = testutil.CreateProject(t, gdb, f.freelancer.ID, "Site")
	require.NoError(t, gdb.Model(f.project).Updates(map[string]any{
		"client_id":             f.client.ID,
		"client_visible":        true,
		"enable_billable_hours": true,
	}).Error)
	return f
}

func (f *fixture) milestone(t *testing.T, idx int) *models.Invoice {
	t.Helper()
	inv, err := f.svc.InvoiceMilestone(context.Background(), MilestoneInput{
		ProjectID:      f.project.ID,
		FreelancerID:   f.freelancer.ID,
		MilestoneIndex: idx,
	})
	require.NoError(t, err)
	return inv
}

func TestInvoiceMilestone(t *testing.T) {
	f := newFixture(t)

	inv := f.milestone(t, 1)
	assert.Equal(t, int64(400_00), inv.Amount)
	assert.Equal(t, models.InvoiceSent, inv.Status)
	assert.Equal(t, f.client.ID, inv.ClientID)
	assert.Regexp(t, `^INV-[A-Z2-9]{8}$`, inv.Number)
	assert.Equal(t, []events.Type{events.InvoiceIssued}, f.rec.Types())

	_, err := f.svc.InvoiceMilestone(context.Background(), MilestoneInput{
		ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, MilestoneIndex: 1,
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.Void(context.Background(), inv.ID, f.freelancer.ID)
	require.NoError(t, err)
	f.milestone(t, 1)
}

func TestInvoiceMilestoneErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InvoiceMilestone(ctx, MilestoneInput{ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, MilestoneIndex: 3})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.InvoiceMilestone(ctx, MilestoneInput{ProjectID: f.project.ID, FreelancerID: f.client.ID})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.InvoiceMilestone(ctx, MilestoneInput{ProjectID: uuid.New(), FreelancerID: f.freelancer.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	unbound := testutil.CreateProject(t, f.db, f.freelancer.ID, "No client")
	_, err = f.svc.InvoiceMilestone(ctx, MilestoneInput{ProjectID: unbound.ID, FreelancerID: f.freelancer.ID})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestInvoiceHoursRespectsCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.Model(f.project).Update("max_billable_hours", 10.0).Error)

	inv, err := f.svc.InvoiceHours(ctx, HoursInput{ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, Hours: 7.5})
	require.NoError(t, err)
	assert.Equal(t, int64(375_00), inv.Amount)
	assert.Nil(t, inv.MilestoneIndex)

	_, err = f.svc.InvoiceHours(ctx, HoursInput{ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, Hours: 3})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.InvoiceHours(ctx, HoursInput{ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, Hours: 2.5})
	require.NoError(t, err)
}

func TestInvoiceHoursRequiresBillableHours(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(f.project).Update("enable_billable_hours", false).Error)

	_, err := f.svc.InvoiceHours(context.Background(), HoursInput{ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, Hours: 1})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.InvoiceHours(context.Background(), HoursInput{ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, Hours: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestMarkPaidOnlyByClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.milestone(t, 0)

	_, err := f.svc.MarkPaid(ctx, inv.ID, f.freelancer.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	var stored models.Invoice
	require.NoError(t, f.db.First(&stored, "id = ?", inv.ID).Error)
	assert.Equal(t, models.InvoiceSent, stored.Status)
	assert.Nil(t, stored.PaidAt)

	var u models.User
	require.NoError(t, f.db.First(&u, "id = ?", f.freelancer.ID).Error)
	assert.Zero(t, u.Balance)
}

func TestMarkPaidCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.milestone(t, 0)

	paid, err := f.svc.MarkPaid(ctx, inv.ID, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	again, err := f.svc.MarkPaid(ctx, inv.ID, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, again.Status)

	var u models.User
	require.NoError(t, f.db.First(&u, "id = ?", f.freelancer.ID).Error)
	assert.Equal(t, int64(300_00), u.Balance)

	ledger, err := f.svc.Ledger(ctx, f.freelancer.ID, 0)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, models.TransactionCredit, ledger[0].Type)
	assert.Equal(t, inv.ID, *ledger[0].InvoiceID)

	var p models.Project
	require.NoError(t, f.db.First(&p, "id = ?", f.project.ID).Error)
	assert.Equal(t, models.MilestoneCompleted, p.Milestones[0].Status)
	assert.Equal(t, models.MilestonePending, p.Milestones[1].Status)

	assert.Equal(t, []events.Type{events.InvoiceIssued, events.InvoicePaid}, f.rec.Types())
}

func TestVoidRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.milestone(t, 0)

	_, err := f.svc.Void(ctx, inv.ID, f.client.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.MarkPaid(ctx, inv.ID, f.client.ID)
	require.NoError(t, err)
	_, err = f.svc.Void(ctx, inv.ID, f.freelancer.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	other := f.milestone(t, 1)
	_, err = f.svc.Void(ctx, other.ID, f.freelancer.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkPaid(ctx, other.ID, f.client.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestSummaryAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.milestone(t, 0)
	due := f.clock.Now().Add(-24 * time.Hour)
	_, err := f.svc.InvoiceMilestone(ctx, MilestoneInput{
		ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, MilestoneIndex: 1, DueDate: &due,
	})
	require.NoError(t, err)
	_, err = f.svc.MarkPaid(ctx, a.ID, f.client.ID)
	require.NoError(t, err)

	sum, err := f.svc.Summary(ctx, f.freelancer.ID)
	require.NoError(t, err)
	assert.Equal(t, Summary{
		Paid:             300_00,
		Outstanding:      400_00,
		Overdue:          400_00,
		PaidCount:        1,
		OutstandingCount: 1,
		Balance:          300_00,
	}, sum)

	clientSum, err := f.svc.Summary(ctx, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300_00), clientSum.Paid)
	assert.Equal(t, int64(0), clientSum.Balance)

	list, err := f.svc.List(ctx, f.project.ID, f.client.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	stranger := testutil.CreateUser(t, f.db, models.RoleClient, "Other", "other@example.com")
	_, err = f.svc.List(ctx, f.project.ID, stranger.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.MarkPaid(ctx, a.ID, stranger.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
