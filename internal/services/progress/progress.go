// Package progress tracks tasks and their append-only progress log, and
// derives project completion from task states.
package progress

import (
	"context"
	"math"
	"strings"

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

// Percent is round(100*completed/total), 0 for an empty project.
func Percent(completed, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

type Completion struct {
	ProjectID uuid.UUID `json:"projectId"`
	Total     int64     `json:"totalTasks"`
	Completed int64     `json:"completedTasks"`
	Percent   int       `json:"completion"`
}

func completionOf(q *gorm.DB, projectID uuid.UUID) (Completion, error) {
	c := Completion{ProjectID: projectID}
	if err := q.Model(&models.Task{}).Where("project_id = ?", projectID).Count(&c.Total).Error; err != nil {
		return c, err
	}
	err := q.Model(&models.Task{}).
		Where("project_id = ? AND status = ?", projectID, models.TaskCompleted).
		Count(&c.Completed).Error
	c.Percent = Percent(c.Completed, c.Total)
	return c, err
}

// Completion computes the aggregate for a project visible to userID.
func (s *Service) Completion(ctx context.Context, projectID, userID uuid.UUID) (Completion, error) {
	var out Completion
	err := s.Read(ctx, "project completion", func(q *gorm.DB) error {
		if _, err := member(q, projectID, userID); err != nil {
			return err
		}
		var err error
		out, err = completionOf(q, projectID)
		return err
	})
	return out, err
}

func member(q *gorm.DB, projectID, userID uuid.UUID) (*models.Project, error) {
	var p models.Project
	if err := q.First(&p, "id = ?", projectID).Error; err != nil {
		return nil, services.NotFound(err, "project", projectID)
	}
	if !p.IsMember(userID) {
		return nil, apperr.Forbidden("not a member of project %s", projectID)
	}
	return &p, nil
}

// Done reports whether every task is completed. Percent can round up to 100
// while a task is still open.
func (c Completion) Done() bool {
	return c.Total > 0 && c.Completed == c.Total
}

// syncProjectStatus flips an active project to completed once every task is
// completed and a completed one back to active otherwise. Other statuses are
// left alone.
func syncProjectStatus(tx *gorm.DB, p *models.Project) (Completion, error) {
	c, err := completionOf(tx, p.ID)
	if err != nil {
		return c, err
	}
	next := p.Status
	switch {
	case p.Status == models.ProjectActive && c.Done():
		next = models.ProjectCompleted
	case p.Status == models.ProjectCompleted && !c.Done():
		next = models.ProjectActive
	}
	if next != p.Status {
		if err := tx.Model(&models.Project{}).Where("id = ?", p.ID).Update("status", next).Error; err != nil {
			return c, err
		}
		p.Status = next
	}
	return c, nil
}

type CreateTaskInput struct {
	ProjectID      uuid.UUID `json:"-"`
	FreelancerID   uuid.UUID `json:"-"`
	Title          string    `json:"title" validate:"notblank"`
	Description    string    `json:"description"`
	EstimatedHours float64   `json:"estimatedHours" validate:"gte=0"`
}

func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	task := &models.Task{
		ProjectID:      in.ProjectID,
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		EstimatedHours: in.EstimatedHours,
		Status:         models.TaskPending,
	}
	err := s.InTx(ctx, "create task", func(tx *gorm.DB) error {
		var p models.Project
		if err := services.LockByID(tx, &p, in.ProjectID); err != nil {
			return services.NotFound(err, "project", in.ProjectID)
		}
		if !p.IsOwner(in.FreelancerID) {
			return apperr.Forbidden("only the project owner can add tasks")
		}
		if !p.Open() && p.Status != models.ProjectCompleted {
			return apperr.InvalidState(apperr.ReasonProjectClosed, "project %s is %s", p.ID, p.Status)
		}
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		// a new pending task pulls a completed project back to active
		_, err := syncProjectStatus(tx, &p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, projectID, userID uuid.UUID) ([]models.Task, error) {
	var out []models.Task
	err := s.Read(ctx, "list tasks", func(q *gorm.DB) error {
		if _, err := member(q, projectID, userID); err != nil {
			return err
		}
		return q.Where("project_id = ?", projectID).Order("created_at ASC").Find(&out).Error
	})
	return out, err
}

// LogTime adds hours to a task's time spent.
func (s *Service) LogTime(ctx context.Context, taskID, freelancerID uuid.UUID, hours float64) (*models.Task, error) {
	if err := validation.Var("hours", hours, "gt=0,lte=24"); err != nil {
		return nil, err
	}
	var task models.Task
	err := s.InTx(ctx, "log time", func(tx *gorm.DB) error {
		if err := services.LockByID(tx, &task, taskID); err != nil {
			return services.NotFound(err, "task", taskID)
		}
		var p models.Project
		if err := tx.First(&p, "id = ?", task.ProjectID).Error; err != nil {
			return services.NotFound(err, "project", task.ProjectID)
		}
		if !p.IsOwner(freelancerID) {
			return apperr.Forbidden("only the project owner can log time")
		}
		task.TimeSpent += hours
		return tx.Model(&models.Task{}).Where("id = ?", task.ID).
			Update("time_spent", gorm.Expr("time_spent + ?", hours)).Error
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

type LogInput struct {
	TaskID       uuid.UUID
	FreelancerID uuid.UUID
	NewProgress  int
	Notes        string
}

type LogResult struct {
	Update     *models.ProgressUpdate `json:"update"`
	Task       *models.Task           `json:"task"`
	Completion Completion             `json:"projectCompletion"`
	Project    models.ProjectStatus   `json:"projectStatus"`
}

// LogProgress appends a progress update and applies it to the task. Earlier
// updates are never rewritten; the task holds only the latest value.
func (s *Service) LogProgress(ctx context.Context, in LogInput) (*LogResult, error) {
	if err := validation.Var("newProgress", in.NewProgress, "gte=0,lte=100"); err != nil {
		return nil, err
	}

	var (
		out    LogResult
		client uuid.UUID
	)
	err := s.InTx(ctx, "log progress", func(tx *gorm.DB) error {
		var task models.Task
		if err := services.LockByID(tx, &task, in.TaskID); err != nil {
			return services.NotFound(err, "task", in.TaskID)
		}
		var p models.Project
		if err := services.LockByID(tx, &p, task.ProjectID); err != nil {
			return services.NotFound(err, "project", task.ProjectID)
		}
		if !p.IsOwner(in.FreelancerID) {
			return apperr.Forbidden("only the project owner can log progress")
		}
		if !p.Open() && p.Status != models.ProjectCompleted {
			return apperr.InvalidState(apperr.ReasonProjectClosed, "project %s is %s", p.ID, p.Status)
		}

		u := &models.ProgressUpdate{
			TaskID:         task.ID,
			ProjectID:      p.ID,
			AuthorID:       in.FreelancerID,
			OldProgress:    task.Progress,
			NewProgress:    in.NewProgress,
			ProgressChange: in.NewProgress - task.Progress,
			Notes:          strings.TrimSpace(in.Notes),
			CreatedAt:      s.Clock(),
		}
		if err := tx.Create(u).Error; err != nil {
			return err
		}

		task.Progress = in.NewProgress
		task.Status = models.StatusForProgress(in.NewProgress)
		err := tx.Model(&models.Task{}).Where("id = ?", task.ID).Updates(map[string]any{
			"progress": task.Progress,
			"status":   task.Status,
		}).Error
		if err != nil {
			return err
		}

		c, err := syncProjectStatus(tx, &p)
		if err != nil {
			return err
		}
		out = LogResult{Update: u, Task: &task, Completion: c, Project: p.Status}
		if p.ClientID != nil {
			client = *p.ClientID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ProgressLogged.Inc()
	s.Log.Debug("progress logged",
		zap.String("task_id", out.Task.ID.String()),
		zap.Int("progress", out.Task.Progress),
		zap.Int("project_completion", out.Completion.Percent),
	)

	s.Emit(ctx, events.New(events.TaskProgress, out.Task.ProjectID, map[string]any{
		"taskId":     out.Task.ID,
		"progress":   out.Task.Progress,
		"completion": out.Completion.Percent,
		"status":     out.Project,
	}, in.FreelancerID, client))
	return &out, nil
}

// ListUpdates returns the progress log for a task, oldest first.
func (s *Service) ListUpdates(ctx context.Context, taskID, userID uuid.UUID) ([]models.ProgressUpdate, error) {
	var out []models.ProgressUpdate
	err := s.Read(ctx, "list progress updates", func(q *gorm.DB) error {
		var task models.Task
		if err := q.First(&task, "id = ?", taskID).Error; err != nil {
			return services.NotFound(err, "task", taskID)
		}
		if _, err := member(q, task.ProjectID, userID); err != nil {
			return err
		}
		return q.Where("task_id = ?", taskID).Order("created_at ASC").Find(&out).Error
	})
	return out, err
}

// ProjectUpdates returns the progress log across a project, newest first.
func (s *Service) ProjectUpdates(ctx context.Context, projectID, userID uuid.UUID, limit int) ([]models.ProgressUpdate, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []models.ProgressUpdate
	err := s.Read(ctx, "list project progress", func(q *gorm.DB) error {
		if _, err := member(q, projectID, userID); err != nil {
			return err
		}
		return q.Where("project_id = ?", projectID).Order("created_at DESC").Limit(limit).Find(&out).Error
	})
	return out, err
}
