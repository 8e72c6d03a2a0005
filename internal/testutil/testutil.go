// Package testutil holds fixtures shared by the service and handler tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/db"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
)

// OpenDB returns a migrated in-memory SQLite database. The pool is pinned to
// one connection so every query sees the same memory database.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(gdb))
	return gdb
}

// CreateUser inserts an active user with the given role.
func CreateUser(t testing.TB, gdb *gorm.DB, role models.Role, name, email string) *models.User {
	t.Helper()
	u := &models.User{
		Name:     name,
		Email:    models.NormalizeEmail(email),
		Password: "x",
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

// CreateProject inserts a project owned by freelancerID with a three-milestone plan.
func CreateProject(t testing.TB, gdb *gorm.DB, freelancerID uuid.UUID, title string) *models.Project {
	t.Helper()
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	p := &models.Project{
		Title:        title,
		Description:  "Build the marketing site",
		FreelancerID: freelancerID,
		Status:       models.ProjectActive,
		Milestones: []models.Milestone{
			{Title: "Design", Percentage: 30, Amount: 300_00, Status: models.MilestonePending},
			{Title: "Build", Percentage: 40, Amount: 400_00, Status: models.MilestonePending},
			{Title: "Launch", Percentage: 30, Amount: 300_00, Status: models.MilestonePending},
		},
		HourlyRate:    50_00,
		StartDate:     &start,
		EndDate:       &end,
		DepositAmount: 100_00,
		PaymentTerms:  "Net 14",
	}
	require.NoError(t, gdb.Create(p).Error)
	return p
}

// Clock is a settable time source for services that take a Now func.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
