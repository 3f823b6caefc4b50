package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-speaking-api/internal/config"
	"github.com/noah-isme/gema-speaking-api/internal/handler"
	"github.com/noah-isme/gema-speaking-api/internal/middleware"
	"github.com/noah-isme/gema-speaking-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AudioHandler        *handler.AudioHandler
	SessionHandler      *handler.SessionHandler
	SubmissionHandler   *handler.SubmissionHandler
	CaptureHandler      *handler.CaptureHandler
	NotificationHandler *handler.NotificationHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	speaking := app.Group("/api/v2/speaking", jwtMiddleware)

	if deps.AudioHandler != nil {
		deps.AudioHandler.Register(speaking)
	}

	assignments := speaking.Group("/assignments")
	if deps.SessionHandler != nil {
		uploads := middleware.RateLimit("recording_upload", cfg.RateLimitMax, cfg.RateLimitWindow)
		assignments.Use("/:assignmentId/questions", uploads)
		deps.SessionHandler.Register(assignments)
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.RegisterAssignmentRoutes(assignments)
		deps.SubmissionHandler.Register(speaking.Group("/submissions"))
	}

	if deps.CaptureHandler != nil {
		deps.CaptureHandler.Register(speaking.Group("/capture", middleware.RequireRole(middleware.AuthRoleStudent)))
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(speaking.Group("/notifications"))
	}
}
