package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ananth-NQI/signdesk-backend/internal/handlers"
	"github.com/Ananth-NQI/signdesk-backend/internal/middleware"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
)

// Handlers groups every HTTP handler the API serves.
type Handlers struct {
	Health        *handlers.HealthHandler
	Signing       *handlers.SigningHandler
	Templates     *handlers.TemplateHandler
	Notifications *handlers.NotificationHandler
	Webhooks      *handlers.WebhookHandler
	Blobs         *handlers.BlobHandler
}

// Options configures authentication and limits.
type Options struct {
	JWTSecret          string
	OTPRateLimitPerMin int
	AllowOrigins       string
}

// NewApp creates the fiber app with the shared middleware stack.
func NewApp(name string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      name,
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	app.Use(requestid.New())
	app.Use(middleware.RequestLogger())
	app.Use(recover.New())
	return app
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, h Handlers, opts Options) {
	if opts.AllowOrigins == "" {
		opts.AllowOrigins = "*"
	}
	if opts.OTPRateLimitPerMin <= 0 {
		opts.OTPRateLimitPerMin = 10
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + handlers.IdempotencyHeader,
		AllowMethods: "GET, POST, OPTIONS",
	}))

	app.Get("/health", h.Health.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	auth := middleware.RequireAuth(opts.JWTSecret)
	staff := middleware.RequireRole(models.RoleAgent, models.RoleAdmin)

	// OTP endpoints are called by signers without an account
	otpLimit := limiter.New(limiter.Config{
		Max:        opts.OTPRateLimitPerMin,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|" + c.Params("id")
		},
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "too many verification requests, try again later")
		},
	})

	// ========== SIGNING ROUTES ==========
	sessions := app.Group("/api/signing/sessions")
	sessions.Post("/", auth, staff, h.Signing.CreateSession)
	sessions.Get("/:id", auth, h.Signing.GetSession)
	sessions.Post("/:id/cancel", auth, h.Signing.CancelSession)
	sessions.Post("/:id/reminders", auth, h.Signing.SendReminders)
	sessions.Post("/:id/otp", otpLimit, h.Signing.IssueOTP)
	sessions.Post("/:id/otp/verify", otpLimit, h.Signing.VerifyOTP)
	sessions.Get("/:id/documents/:kind", auth, h.Signing.GetDocument)

	app.Post("/api/signing/templates", auth, staff, h.Templates.CreateTemplate)
	app.Get("/api/notifications", auth, h.Notifications.List)

	// ========== WEBHOOK ROUTES ==========
	app.Post("/webhook/signing", h.Webhooks.HandleEvent)

	// Signed download links
	app.Get("/blobs", h.Blobs.Serve)
}
