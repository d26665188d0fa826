package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/workhistory/history-migrator/internal/config"
	"github.com/workhistory/history-migrator/internal/events"
	"github.com/workhistory/history-migrator/internal/history"
	"github.com/workhistory/history-migrator/internal/observability"
	"github.com/workhistory/history-migrator/internal/persistence"
	"github.com/workhistory/history-migrator/internal/repository"
	"github.com/workhistory/history-migrator/internal/service"
)

// runtime holds the wired process dependencies.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	postgres   *persistence.Postgres
	redis      *persistence.Redis
	migrations *service.MigrationService
	closers    []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func loadConfig(opts *RootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Logger.Level = opts.LogLevel
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func newEngine(cfg config.MigrationConfig) *history.Engine {
	return history.NewEngine(history.Options{
		Location:            cfg.Location(),
		SystemAuthor:        cfg.SystemAuthor,
		MandatoryAttributes: cfg.MandatoryAttributes,
	})
}

// bootstrap wires the stores and services. With offline set, no store is
// opened and only previews are possible.
func bootstrap(ctx context.Context, opts *RootOptions, offline bool) (*runtime, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(dispatcher, logger, cfg.Notification).RegisterHandlers()

	engine := newEngine(cfg.Migration)
	if offline {
		rt.migrations = service.NewMigrationService(service.MigrationDependencies{
			Engine:     engine,
			Dispatcher: dispatcher,
			Metrics:    rt.metrics,
			Logger:     logger,
		})
		return rt, nil
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rt.postgres = pg
	rt.closers = append(rt.closers, pg.Close)

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			rt.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	rt.redis = persistence.NewRedis(cfg.Redis, logger)
	rt.closers = append(rt.closers, rt.redis.Close)

	pool := pg.PoolHandle()
	snapshots := repository.NewSnapshotRepository(pool)
	emitter := service.NewEmitter(snapshots, service.EmitterConfig{
		ReplaceExisting: cfg.Migration.ReplaceExisting,
		MaxElapsed:      cfg.Migration.RetryMaxElapsed(),
		MaxAttempts:     cfg.Migration.RetryMaxAttempts,
	}, logger, rt.metrics)

	rt.migrations = service.NewMigrationService(service.MigrationDependencies{
		Engine:     engine,
		Emitter:    emitter,
		RunRepo:    repository.NewMigrationRunRepository(pool),
		Snapshots:  snapshots,
		Locker:     repository.NewItemLocker(rt.redis.Client),
		Dispatcher: dispatcher,
		Metrics:    rt.metrics,
		Logger:     logger,
		LeaseTTL:   cfg.Migration.LeaseTTL(),
	})
	return rt, nil
}
