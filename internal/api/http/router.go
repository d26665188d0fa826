package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/workhistory/history-migrator/internal/api/http/handlers"
	"github.com/workhistory/history-migrator/internal/auth"
	"github.com/workhistory/history-migrator/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Migrations     *handlers.MigrationsHandler
	Metrics        *handlers.MetricsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/login", cfg.Auth.Login)

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.OperatorRoleViewer, domain.OperatorRoleMigrator))
	api.Get("/metrics", cfg.Metrics.Get)

	migrations := api.Group("/migrations")
	migrations.Get("/", cfg.Migrations.List)
	migrations.Get("/:itemID", cfg.Migrations.Get)
	migrations.Get("/:itemID/snapshots", cfg.Migrations.Snapshots)

	writer := auth.RequireRole(domain.OperatorRoleMigrator)
	migrations.Post("/", writer, cfg.Migrations.Create)
	migrations.Post("/preview", writer, cfg.Migrations.Preview)
}
