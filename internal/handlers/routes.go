package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/config"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/metrics"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/middleware"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/realtime"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/retry"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/billing"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/contract"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/invitation"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/mailer"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/progress"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/project"
)

// Deps is everything the HTTP layer is built from.
type Deps struct {
	Config config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Events events.Publisher
	Hub    *realtime.Hub
	Sender mailer.Sender
	Now    func() time.Time
}

// Services are the domain services behind the handlers, exposed for the
// worker and CLI that share them.
type Services struct {
	Projects    *project.Service
	Invitations *invitation.Service
	Contracts   *contract.Service
	Progress    *progress.Service
	Billing     *billing.Service
}

func NewServices(d Deps) Services {
	sd := services.NewDeps(d.DB, services.Deps{
		Log:    d.Log,
		Events: d.Events,
		Now:    d.Now,
		Retry:  retry.Policy{MaxElapsed: d.Config.RetryMaxElapsed},
	})
	return Services{
		Projects:    project.NewService(sd),
		Invitations: invitation.NewService(sd, d.Config.InvitationTTL),
		Contracts:   contract.NewService(sd),
		Progress:    progress.NewService(sd),
		Billing:     billing.NewService(sd),
	}
}

// NewApp builds the fiber app with every route mounted.
func NewApp(d Deps, svc Services) *fiber.App {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Sender == nil {
		d.Sender = mailer.LogSender{Log: d.Log}
	}
	if d.Hub == nil {
		d.Hub = realtime.NewHub(d.Log)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	cfg := d.Config

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(d.Log),
	})
	app.Use(recover.New())
	// credentials are only allowed with an explicit origin list
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.CORSOrigins, ", "),
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: len(cfg.CORSOrigins) > 0,
	}))
	app.Use(middleware.RequestLogger(d.Log))
	app.Use(metrics.Middleware())

	app.Get("/healthz", Health(d.DB))

	auth := middleware.JWT(cfg.JWTSecret)
	api := app.Group("/api")

	authH := &AuthHandler{
		DB:           d.DB,
		JWTSecret:    cfg.JWTSecret,
		Expires:      cfg.JWTExpiresMin,
		CookieSecure: cfg.CookieSecure,
	}
	googleH := &GoogleOAuthHandler{
		DB:              d.DB,
		Log:             d.Log,
		JWTSecret:       cfg.JWTSecret,
		Expires:         cfg.JWTExpiresMin,
		CookieSecure:    cfg.CookieSecure,
		GoogleClientID:  cfg.GoogleClientID,
		GoogleSecret:    cfg.GoogleSecret,
		GoogleRedirect:  cfg.GoogleRedirect,
		FrontendBaseURL: cfg.FrontendBaseURL,
	}
	api.Post("/auth/register", authH.Register)
	api.Post("/auth/login", authH.Login)
	api.Post("/auth/logout", authH.Logout)
	api.Get("/auth/google/start", googleH.GoogleStart)
	api.Get("/auth/google/callback", googleH.GoogleCallback)
	api.Get("/me", auth, authH.Me)

	invH := NewInvitationHandler(svc.Invitations, d.Sender, cfg.FrontendBaseURL, d.Log)
	invH.Routes(api, auth)
	NewEmailHandler(d.Sender).Routes(api, auth)

	(&TaskHandler{Progress: svc.Progress}).Routes(api, auth)
	(&InvoiceHandler{Billing: svc.Billing}).Routes(api, auth)
	(&ContractHandler{Contracts: svc.Contracts}).Routes(api, auth)
	(&ProjectHandler{
		Projects:    svc.Projects,
		Contracts:   svc.Contracts,
		Invitations: svc.Invitations,
		Mailer:      invH.Mailer,
		Log:         d.Log,
	}).Routes(api, auth)
	dash := NewDashboardHandler(d.DB)
	dash.Now = d.Now
	dash.Routes(api, auth)

	(&WSHandler{Hub: d.Hub, Log: d.Log}).Routes(app, auth)
	return app
}
