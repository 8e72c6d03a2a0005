package handlers

import (
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/db"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/progress"
)

// DashboardHandler serves read-only overviews straight from the store.
type DashboardHandler struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewDashboardHandler(gdb *gorm.DB) *DashboardHandler {
	return &DashboardHandler{DB: gdb, Now: time.Now}
}

func (h *DashboardHandler) Routes(r fiber.Router, auth fiber.Handler) {
	g := r.Group("/dashboard", auth)
	g.Get("/stats", h.GetStats)
	g.Get("/projects", h.GetProjects)
}

// scope limits a project query to what the caller may see.
func scope(q *gorm.DB, userID uuid.UUID, role models.Role) *gorm.DB {
	if role == models.RoleFreelancer {
		return q.Where("freelancer_id = ?", userID)
	}
	return q.Where("client_id = ? AND client_visible = ?", userID, true)
}

type statusCount struct {
	Status models.ProjectStatus
	N      int64
}

func (h *DashboardHandler) GetStats(c *fiber.Ctx) error {
	userID, err := getAuth(c)
	if err != nil {
		return err
	}
	role := getRole(c)
	q := h.DB.WithContext(c.UserContext())

	var counts []statusCount
	err = scope(q.Model(&models.Project{}), userID, role).
		Select("status, COUNT(*) AS n").Group("status").Scan(&counts).Error
	if err != nil {
		return db.Wrap("dashboard project counts", err)
	}
	byStatus := fiber.Map{}
	var total int64
	for _, sc := range counts {
		byStatus[string(sc.Status)] = sc.N
		total += sc.N
	}

	invQ := q.Model(&models.Invitation{}).
		Where("status = ? AND expires_at > ?", models.InvitationPending, h.Now().UTC())
	if role == models.RoleFreelancer {
		invQ = invQ.Where("freelancer_id = ?", userID)
	} else {
		var u models.User
		if err := q.Select("email").First(&u, "id = ?", userID).Error; err != nil {
			return db.Wrap("dashboard user", err)
		}
		invQ = invQ.Where("client_email = ?", u.Email)
	}
	var pendingInvites int64
	if err := invQ.Count(&pendingInvites).Error; err != nil {
		return db.Wrap("dashboard invitations", err)
	}

	var earnings int64
	err = q.Model(&models.Transaction{}).
		Where("user_id = ? AND type = ?", userID, models.TransactionCredit).
		Select("COALESCE(SUM(amount), 0)").Scan(&earnings).Error
	if err != nil {
		return db.Wrap("dashboard earnings", err)
	}

	return ok(c, fiber.StatusOK, fiber.Map{
		"data": fiber.Map{
			"totalProjects":      total,
			"projectsByStatus":   byStatus,
			"pendingInvitations": pendingInvites,
			"totalEarnings":      earnings,
		},
	})
}

type projectRow struct {
	models.Project
	Completion int `json:"completion"`
}

// GetProjects pages through the caller's projects with their completion.
func (h *DashboardHandler) GetProjects(c *fiber.Ctx) error {
	userID, err := getAuth(c)
	if err != nil {
		return err
	}
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := scope(h.DB.WithContext(c.UserContext()).Model(&models.Project{}), userID, getRole(c))
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return db.Wrap("dashboard projects", err)
	}
	var list []models.Project
	if err := q.Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&list).Error; err != nil {
		return db.Wrap("dashboard projects", err)
	}

	ids := make([]uuid.UUID, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	type agg struct {
		ProjectID uuid.UUID
		Total     int64
		Completed int64
	}
	var aggs []agg
	if len(ids) > 0 {
		err := h.DB.WithContext(c.UserContext()).Model(&models.Task{}).
			Select("project_id, COUNT(*) AS total, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed", models.TaskCompleted).
			Where("project_id IN ?", ids).Group("project_id").Scan(&aggs).Error
		if err != nil {
			return db.Wrap("dashboard completion", err)
		}
	}
	completion := make(map[uuid.UUID]int, len(aggs))
	for _, a := range aggs {
		completion[a.ProjectID] = progress.Percent(a.Completed, a.Total)
	}

	data := make([]projectRow, 0, len(list))
	for _, p := range list {
		data = append(data, projectRow{Project: p, Completion: completion[p.ID]})
	}

	return ok(c, fiber.StatusOK, fiber.Map{
		"data": data,
		"meta": fiber.Map{
			"page":       page,
			"limit":      limit,
			"totalItems": total,
			"totalPages": int(math.Ceil(float64(total) / float64(limit))),
		},
	})
}
