package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-router/internal/api/http/handlers"
	"github.com/spec-kit/support-router/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Webhook        *handlers.WebhookHandler
	Auth           *handlers.AuthHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/webhook", cfg.Webhook.Handle)

	app.Post("/auth/admin/login", cfg.Auth.Login)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle)
	admin.Get("/tickets/open", cfg.Admin.ListOpen)
	admin.Get("/tickets/breached", cfg.Admin.ListBreached)
	admin.Get("/tickets/search", cfg.Admin.Search)
	admin.Get("/tickets/:userID", cfg.Admin.GetTicket)
	admin.Get("/stats", cfg.Admin.Stats)
}
