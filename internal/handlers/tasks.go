package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/progress"
)

type TaskHandler struct {
	Progress *progress.Service
}

func (h *TaskHandler) Routes(r fiber.Router, auth fiber.Handler) {
	r.Post("/projects/:id/tasks", auth, freelancerOnly, h.Create)
	r.Get("/projects/:id/tasks", auth, h.List)
	r.Get("/projects/:id/progress", auth, h.ProjectUpdates)
	r.Get("/projects/:id/completion", auth, h.Completion)

	r.Post("/tasks/:id/progress", auth, freelancerOnly, h.LogProgress)
	r.Post("/tasks/:id/time", auth, freelancerOnly, h.LogTime)
	r.Get("/tasks/:id/updates", auth, h.Updates)
}

type createTaskReq struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	EstimatedHours float64 `json:"estimatedHours"`
}

func (h *TaskHandler) Create(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	projectID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req createTaskReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	task, err := h.Progress.CreateTask(c.UserContext(), progress.CreateTaskInput{
		ProjectID:      projectID,
		FreelancerID:   uid,
		Title:          req.Title,
		Description:    req.Description,
		EstimatedHours: req.EstimatedHours,
	})
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, fiber.Map{"data": task})
}

func (h *TaskHandler) List(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	projectID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	tasks, err := h.Progress.ListTasks(c.UserContext(), projectID, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": tasks})
}

func (h *TaskHandler) Completion(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	projectID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	comp, err := h.Progress.Completion(c.UserContext(), projectID, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": comp})
}

type progressReq struct {
	NewProgress *int   `json:"newProgress"`
	Notes       string `json:"notes"`
}

func (h *TaskHandler) LogProgress(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	taskID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req progressReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.NewProgress == nil {
		return apperr.Invalid("newProgress", "is required")
	}
	res, err := h.Progress.LogProgress(c.UserContext(), progress.LogInput{
		TaskID:       taskID,
		FreelancerID: uid,
		NewProgress:  *req.NewProgress,
		Notes:        req.Notes,
	})
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, fiber.Map{"data": res})
}

type timeReq struct {
	Hours float64 `json:"hours"`
}

func (h *TaskHandler) LogTime(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	taskID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req timeReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	task, err := h.Progress.LogTime(c.UserContext(), taskID, uid, req.Hours)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": task})
}

func (h *TaskHandler) Updates(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	taskID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	ups, err := h.Progress.ListUpdates(c.UserContext(), taskID, uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": ups})
}

func (h *TaskHandler) ProjectUpdates(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	projectID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	ups, err := h.Progress.ProjectUpdates(c.UserContext(), projectID, uid, c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": ups})
}
