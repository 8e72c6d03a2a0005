package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/utils"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type GoogleOAuthHandler struct {
	DB              *gorm.DB
	Log             *zap.Logger
	JWTSecret       string
	Expires         int
	CookieSecure    bool
	GoogleClientID  string
	GoogleSecret    string
	GoogleRedirect  string
	FrontendBaseURL string
}

func (h *GoogleOAuthHandler) oauthCfg() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.GoogleClientID,
		ClientSecret: h.GoogleSecret,
		RedirectURL:  h.GoogleRedirect,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

func (h *GoogleOAuthHandler) shortCookie(c *fiber.Ctx, name, value string, maxAge int) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.CookieSecure,
		SameSite: "Lax",
		MaxAge:   maxAge,
	})
}

// safeNext keeps post-login redirects on the frontend. A pending invitation
// link such as /invite/<token> is the usual value.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	return next
}

func (h *GoogleOAuthHandler) GoogleStart(c *fiber.Ctx) error {
	st, err := utils.NewToken(32)
	if err != nil {
		return err
	}
	h.shortCookie(c, "oauth_state", st, 10*60)
	h.shortCookie(c, "oauth_next", safeNext(c.Query("next", "/")), 10*60)

	return c.Redirect(h.oauthCfg().AuthCodeURL(st, oauth2.AccessTypeOffline), http.StatusTemporaryRedirect)
}

type googleUserInfo struct {
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

func (h *GoogleOAuthHandler) GoogleCallback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing code/state")
	}
	if st := c.Cookies("oauth_state"); st == "" || st != state {
		return fiber.NewError(fiber.StatusBadRequest, "invalid state")
	}
	next := safeNext(c.Cookies("oauth_next"))

	tok, err := h.oauthCfg().Exchange(c.UserContext(), code)
	if err != nil {
		h.Log.Warn("google code exchange failed", zap.Error(err))
		return fiber.NewError(fiber.StatusBadRequest, "failed to exchange code")
	}

	resp, err := h.oauthCfg().Client(c.UserContext(), tok).Get(googleUserInfoURL)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "failed to fetch userinfo")
	}
	defer resp.Body.Close()

	var gu googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&gu); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "failed to decode userinfo")
	}
	email := models.NormalizeEmail(gu.Email)
	if email == "" || !gu.VerifiedEmail {
		return fiber.NewError(fiber.StatusBadRequest, "google account has no verified email")
	}

	u, err := h.upsert(c, email, strings.TrimSpace(gu.Name))
	if err != nil {
		return err
	}
	if !u.IsActive {
		return c.Redirect(h.FrontendBaseURL+"/auth/login?err="+url.QueryEscape("account is inactive"), http.StatusTemporaryRedirect)
	}

	jwtToken, err := utils.SignJWT(h.JWTSecret, u.ID.String(), string(u.Role), h.Expires)
	if err != nil {
		return err
	}
	h.shortCookie(c, utils.SessionCookie, jwtToken, h.Expires*60)
	h.shortCookie(c, "oauth_state", "", -1)
	h.shortCookie(c, "oauth_next", "", -1)

	return c.Redirect(h.FrontendBaseURL+next, http.StatusTemporaryRedirect)
}

// upsert finds the user by email or creates a client account for them.
func (h *GoogleOAuthHandler) upsert(c *fiber.Ctx, email, name string) (*models.User, error) {
	q := h.DB.WithContext(c.UserContext())
	var u models.User
	err := q.Where("email = ?", email).First(&u).Error
	switch {
	case err == nil:
		if name != "" && u.Name != name {
			u.Name = name
			_ = q.Model(&u).Update("name", name).Error
		}
		return &u, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	// password login stays unusable until the user sets one
	raw, err := utils.NewToken(24)
	if err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(raw)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = email
	}
	u = models.User{
		Name:     name,
		Email:    email,
		Password: hashed,
		Role:     models.RoleClient,
		IsActive: true,
	}
	if err := q.Create(&u).Error; err != nil {
		h.Log.Error("create user via google", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	return &u, nil
}
