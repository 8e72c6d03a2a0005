package invitation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/testutil"
)

const ttl = 7 * 24 * time.Hour

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
	clock := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	rec := &testutil.Recorder{}
	f := &fixture{
		db:         gdb,
		svc:        NewService(services.NewDeps(gdb, services.Deps{Now: clock.Now, Events: rec}), ttl),
		clock:      clock,
		rec:        rec,
		freelancer: testutil.CreateUser(t, gdb, models.RoleFreelancer, "Fran Lancer", "fran@example.com"),
		client:     testutil.CreateUser(t, gdb, models.RoleClient, "Cli Ent", "client@example.com"),
	}
	f.project = testutil.CreateProject(t, gdb, f.freelancer.ID, "Marketing site")
	return f
}

func (f *fixture) issue(t *testing.T) *models.Invitation {
	t.Helper()
	inv, err := f.svc.Issue(context.Background(), IssueInput{
		ProjectID:    f.project.ID,
		FreelancerID: f.freelancer.ID,
		ClientEmail:  f.client.Email,
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) reloadProject(t *testing.T) models.Project {
	t.Helper()
	var p models.Project
	require.NoError(t, f.db.First(&p, "id = ?", f.project.ID).Error)
	return p
}

func (f *fixture) countContracts(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Contract{}).Where("project_id = ?", f.project.ID).Count(&n).Error)
	return n
}

func TestIssue(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)

	assert.Equal(t, models.InvitationPending, inv.Status)
	assert.Len(t, inv.Token, 43)
	assert.True(t, inv.ExpiresAt.Equal(f.clock.Now().Add(ttl)))
	assert.Nil(t, inv.RespondedAt)
	assert.Equal(t, []events.Type{events.InvitationCreated}, f.rec.Types())

	p := f.reloadProject(t)
	assert.Equal(t, models.ProjectActive, p.Status, "issuing leaves the project alone")
}

func TestIssueDuplicatePendingConflicts(t *testing.T) {
	f := newFixture(t)
	f.issue(t)

	_, err := f.svc.Issue(context.Background(), IssueInput{
		ProjectID:    f.project.ID,
		FreelancerID: f.freelancer.ID,
		ClientEmail:  "CLIENT@example.com",
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	other, err := f.svc.Issue(context.Background(), IssueInput{
		ProjectID:    f.project.ID,
		FreelancerID: f.freelancer.ID,
		ClientEmail:  "someone-else@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "someone-else@example.com", other.ClientEmail)
}

func TestIssueAfterExpiryAllowed(t *testing.T) {
	f := newFixture(t)
	first := f.issue(t)

	f.clock.Advance(ttl)
	second := f.issue(t)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestIssueErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, IssueInput{ProjectID: uuid.New(), FreelancerID: f.freelancer.ID, ClientEmail: "a@b.co"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Issue(ctx, IssueInput{ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, ClientEmail: "not-an-email"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Issue(ctx, IssueInput{ProjectID: f.project.ID, FreelancerID: f.client.ID, ClientEmail: "a@b.co"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, f.db.Model(f.project).Update("status", models.ProjectCancelled).Error)
	_, err = f.svc.Issue(ctx, IssueInput{ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, ClientEmail: "a@b.co"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestGetDerivesExpiry(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)
	ctx := context.Background()

	got, err := f.svc.Get(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationPending, got.Status)

	f.clock.Advance(ttl)
	got, err = f.svc.Get(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationExpired, got.Status)

	var stored models.Invitation
	require.NoError(t, f.db.First(&stored, "id = ?", inv.ID).Error)
	assert.Equal(t, models.InvitationPending, stored.Status, "expired is never written")

	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAcceptTwiceSecondFails(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)
	ctx := context.Background()

	res, err := f.svc.Accept(ctx, inv.Token, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, res.Invitation.Status)
	require.NotNil(t, res.Invitation.RespondedAt)

	_, err = f.svc.Accept(ctx, inv.Token, f.client.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, apperr.ReasonAlreadyAccepted, apperr.ReasonOf(err))

	assert.EqualValues(t, 1, f.countContracts(t))
}

func TestAcceptConcurrentCreatesOneContract(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Accept(context.Background(), inv.Token, f.client.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.EqualValues(t, 1, f.countContracts(t))
}

func TestAcceptAndRejectRefuseExpired(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)
	ctx := context.Background()

	f.clock.Advance(ttl + time.Second)

	_, err := f.svc.Accept(ctx, inv.Token, f.client.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, apperr.ReasonExpired, apperr.ReasonOf(err))

	_, err = f.svc.Reject(ctx, inv.Token)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, apperr.ReasonExpired, apperr.ReasonOf(err))

	var stored models.Invitation
	require.NoError(t, f.db.First(&stored, "id = ?", inv.ID).Error)
	assert.Equal(t, models.InvitationPending, stored.Status)
	assert.Nil(t, stored.RespondedAt)
	assert.Zero(t, f.countContracts(t))
}

func TestAcceptBindsProjectAndSnapshotsContract(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)
	ctx := context.Background()

	before := f.reloadProject(t)
	res, err := f.svc.Accept(ctx, inv.Token, f.client.ID)
	require.NoError(t, err)

	var c models.Contract
	require.NoError(t, f.db.First(&c, "project_id = ?", f.project.ID).Error)
	assert.Equal(t, res.Contract.ID, c.ID)
	assert.Equal(t, inv.ID, c.InvitationID)
	assert.Equal(t, []models.Milestone(before.Milestones), []models.Milestone(c.Milestones))
	assert.Equal(t, before.HourlyRate, c.HourlyRate)
	require.NotNil(t, c.StartDate)
	require.NotNil(t, c.EndDate)
	assert.True(t, before.StartDate.Equal(*c.StartDate))
	assert.True(t, before.EndDate.Equal(*c.EndDate))
	require.NotNil(t, c.FreelancerSignature)
	assert.Equal(t, "Fran Lancer", *c.FreelancerSignature)
	assert.Nil(t, c.ClientSignature)

	p := f.reloadProject(t)
	require.NotNil(t, p.ClientID)
	assert.Equal(t, f.client.ID, *p.ClientID)
	assert.Equal(t, f.client.Email, *p.ClientEmail)
	assert.True(t, p.ClientVisible)
	assert.Equal(t, models.ProjectPendingApproval, p.Status)

	// editing the project afterwards does not reach the contract
	require.NoError(t, f.db.Model(&models.Project{}).Where("id = ?", p.ID).Update("hourly_rate", 99_00).Error)
	require.NoError(t, f.db.First(&c, "id = ?", c.ID).Error)
	assert.Equal(t, before.HourlyRate, c.HourlyRate)

	assert.Equal(t, []events.Type{events.InvitationCreated, events.InvitationAccepted}, f.rec.Types())
	assert.ElementsMatch(t, []uuid.UUID{f.freelancer.ID, f.client.ID}, f.rec.Events()[1].Recipients)
}

func TestAcceptRollsBackWhenContractFails(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)

	blocker := &models.Contract{
		ProjectID: f.project.ID, InvitationID: uuid.New(),
		FreelancerID: f.freelancer.ID, ClientID: uuid.New(),
	}
	require.NoError(t, f.db.Create(blocker).Error)

	_, err := f.svc.Accept(context.Background(), inv.Token, f.client.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	var stored models.Invitation
	require.NoError(t, f.db.First(&stored, "id = ?", inv.ID).Error)
	assert.Equal(t, models.InvitationPending, stored.Status)
	assert.Nil(t, stored.RespondedAt)

	p := f.reloadProject(t)
	assert.Nil(t, p.ClientID)
	assert.False(t, p.ClientVisible)
	assert.Equal(t, models.ProjectActive, p.Status)
}

func TestAcceptChecksClientIdentity(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)
	ctx := context.Background()

	other := testutil.CreateUser(t, f.db, models.RoleClient, "Other", "other@example.com")
	_, err := f.svc.Accept(ctx, inv.Token, other.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Accept(ctx, inv.Token, f.freelancer.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Accept(ctx, inv.Token, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Accept(ctx, "no-such-token", f.client.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Accept(ctx, inv.Token, f.client.ID)
	assert.NoError(t, err)
}

func TestRejectLeavesProjectUntouched(t *testing.T) {
	f := newFixture(t)
	before := f.reloadProject(t)
	inv := f.issue(t)
	ctx := context.Background()

	got, err := f.svc.Reject(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationRejected, got.Status)
	require.NotNil(t, got.RespondedAt)
	assert.True(t, got.RespondedAt.Equal(f.clock.Now()))

	after := f.reloadProject(t)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.ClientVisible, after.ClientVisible)
	assert.Nil(t, after.ClientID)
	assert.Zero(t, f.countContracts(t))

	_, err = f.svc.Reject(ctx, inv.Token)
	assert.Equal(t, apperr.ReasonAlreadyRejected, apperr.ReasonOf(err))

	_, err = f.svc.Accept(ctx, inv.Token, f.client.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.Reject(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIssueAfterAcceptRefused(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)
	_, err := f.svc.Accept(context.Background(), inv.Token, f.client.ID)
	require.NoError(t, err)

	_, err = f.svc.Issue(context.Background(), IssueInput{
		ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, ClientEmail: "another@example.com",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, apperr.ReasonClientBound, apperr.ReasonOf(err))
}

func TestAcceptClosesOtherPendingInvitations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := testutil.CreateUser(t, f.db, models.RoleClient, "Oth Er", "other@example.com")

	inv := f.issue(t)
	sibling, err := f.svc.Issue(ctx, IssueInput{
		ProjectID: f.project.ID, FreelancerID: f.freelancer.ID, ClientEmail: other.Email,
	})
	require.NoError(t, err)

	// a lapsed sibling stays expired instead of being rewritten
	lapsed := &models.Invitation{
		ProjectID:    f.project.ID,
		FreelancerID: f.freelancer.ID,
		ClientEmail:  "late@example.com",
		Token:        "lapsed-token",
		Status:       models.InvitationPending,
		ExpiresAt:    f.clock.Now().Add(-time.Hour),
	}
	require.NoError(t, f.db.Create(lapsed).Error)

	res, err := f.svc.Accept(ctx, inv.Token, f.client.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Superseded)

	got, err := f.svc.Get(ctx, sibling.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationRejected, got.Status)
	require.NotNil(t, got.RespondedAt)

	got, err = f.svc.Get(ctx, lapsed.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationExpired, got.Status)

	_, err = f.svc.Accept(ctx, sibling.Token, other.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.EqualValues(t, 1, f.countContracts(t))
}

func TestProjectView(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)

	view, err := f.svc.ProjectView(context.Background(), inv.Token)
	require.NoError(t, err)
	assert.Equal(t, f.project.ID, view.Project.ID)
	assert.Equal(t, "Fran Lancer", view.Freelancer.Name)
	assert.Equal(t, models.InvitationPending, view.Invitation.Status)
}

func TestCheckClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.svc.CheckClient(ctx, " CLIENT@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, f.client.ID, got.ID)

	got, err = f.svc.CheckClient(ctx, "fran@example.com")
	require.NoError(t, err)
	assert.Nil(t, got, "freelancer accounts are not clients")

	got, err = f.svc.CheckClient(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.svc.CheckClient(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListForProject(t *testing.T) {
	f := newFixture(t)
	f.issue(t)
	f.clock.Advance(ttl)
	f.clock.Advance(time.Minute)
	f.issue(t)

	list, err := f.svc.ListForProject(context.Background(), f.project.ID, f.freelancer.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.InvitationPending, list[0].Status)
	assert.Equal(t, models.InvitationExpired, list[1].Status)

	_, err = f.svc.ListForProject(context.Background(), f.project.ID, f.client.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestScanExpiredAnnouncesOnce(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)
	ctx := context.Background()

	n, err := f.svc.ScanExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(ttl)
	n, err = f.svc.ScanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.ScanExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var stored models.Invitation
	require.NoError(t, f.db.First(&stored, "id = ?", inv.ID).Error)
	assert.Equal(t, models.InvitationPending, stored.Status)
	assert.NotNil(t, stored.ExpiryNotifiedAt)
	assert.Contains(t, f.rec.Types(), events.InvitationExpired)
}

func TestScanExpiredWithoutPublisherLeavesRowsUnclaimed(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t)
	ctx := context.Background()
	f.clock.Advance(ttl)

	silent := NewService(services.NewDeps(f.db, services.Deps{Now: f.clock.Now}), ttl)
	n, err := silent.ScanExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := silent.CountUnannounced(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	var stored models.Invitation
	require.NoError(t, f.db.First(&stored, "id = ?", inv.ID).Error)
	assert.Nil(t, stored.ExpiryNotifiedAt)

	n, err = f.svc.ScanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, f.rec.Types(), events.InvitationExpired)

	pending, err = f.svc.CountUnannounced(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestWorkerStart(t *testing.T) {
	f := newFixture(t)

	err := NewWorker(f.svc, "whenever", zap.NewNop()).Start(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, NewWorker(f.svc, "@every 1h", nil).Start(ctx))
	cancel()
}
