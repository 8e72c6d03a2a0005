package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/db"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/utils"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/validation"
)

type AuthHandler struct {
	DB           *gorm.DB
	JWTSecret    string
	Expires      int
	CookieSecure bool
}

type RegisterReq struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Phone    string `json:"phone" validate:"omitempty,min=8,max=30"`
	// admin is never assignable from the public endpoint
	Role string `json:"role" validate:"omitempty,oneof=client freelancer"`
}

func (h *AuthHandler) setSession(c *fiber.Ctx, u *models.User) error {
	token, err := utils.SignJWT(h.JWTSecret, u.ID.String(), string(u.Role), h.Expires)
	if err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     utils.SessionCookie,
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.CookieSecure,
		SameSite: "Lax",
		MaxAge:   h.Expires * 60,
	})
	return nil
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = models.NormalizeEmail(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if err := validation.Struct(req); err != nil {
		return err
	}

	role := models.RoleClient
	if req.Role == string(models.RoleFreelancer) {
		role = models.RoleFreelancer
	}

	pw, err := utils.HashPassword(req.Password)
	if err != nil {
		return err
	}

	u := models.User{
		Name:     req.Name,
		Email:    req.Email,
		Password: pw,
		Role:     role,
		IsActive: true,
	}
	if req.Phone != "" {
		u.Phone = &req.Phone
	}

	if err := h.DB.WithContext(c.UserContext()).Create(&u).Error; err != nil {
		if db.IsUniqueViolation(err) {
			field := "email"
			if strings.Contains(err.Error(), "phone") {
				field = "phone"
			}
			return apperr.Invalid(field, "is already registered")
		}
		return db.Wrap("register", err)
	}

	if err := h.setSession(c, &u); err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, fiber.Map{
		"message": "registered",
		"data":    fiber.Map{"user": u.Summary()},
	})
}

type LoginReq struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginReq
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.Email = models.NormalizeEmail(req.Email)
	if err := validation.Struct(req); err != nil {
		return err
	}

	var u models.User
	err := h.DB.WithContext(c.UserContext()).Where("email = ?", req.Email).First(&u).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Wrap("login", err)
	}
	if err != nil || !utils.CheckPassword(u.Password, req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid email or password")
	}
	if !u.IsActive {
		return apperr.Forbidden("account is inactive")
	}

	if err := h.setSession(c, &u); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, fiber.Map{
		"message": "logged in",
		"data":    fiber.Map{"user": u.Summary()},
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     utils.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   h.CookieSecure,
		SameSite: "Lax",
	})
	return ok(c, fiber.StatusOK, fiber.Map{"message": "logged out"})
}

// Me returns the signed-in user.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	uid, err := getAuth(c)
	if err != nil {
		return err
	}
	var u models.User
	if err := h.DB.WithContext(c.UserContext()).First(&u, "id = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "user not found")
		}
		return db.Wrap("load user", err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"data": u})
}
