package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/workhistory/history-migrator/internal/api/http"
	"github.com/workhistory/history-migrator/internal/api/http/handlers"
	"github.com/workhistory/history-migrator/internal/auth"
	"github.com/workhistory/history-migrator/internal/service"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the operator HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rootOpts)
		},
	}
}

func serve(ctx context.Context, opts *RootOptions) error {
	rt, err := bootstrap(ctx, opts, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	authService, err := service.NewAuthService(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, rt.metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, rt.postgres, rt.redis),
		Auth:           handlers.NewAuthHandler(authService),
		Migrations:     handlers.NewMigrationsHandler(rt.migrations, cfg.Migration.ItemTimeout()),
		Metrics:        handlers.NewMetricsHandler(rt.metrics),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager()),
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.App.Addr()))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("fiber listen: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	return app.Shutdown()
}
