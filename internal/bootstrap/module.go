package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"companion/internal/bootstrap/config"
	"companion/internal/bootstrap/database"
	"companion/internal/bootstrap/logging"
	"companion/internal/infrastructure/assets"
	backendinfra "companion/internal/infrastructure/backend"
	"companion/internal/infrastructure/notify"
	"companion/internal/infrastructure/persistence/sqlite"
	sqliteuow "companion/internal/infrastructure/persistence/sqlite/uow"
	"companion/internal/ports"
	cachesvc "companion/internal/usecase/cache"
	"companion/internal/usecase/records"
	"companion/internal/usecase/session"
	syncsvc "companion/internal/usecase/sync"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqlite.NewStore,
			fx.As(new(ports.KeyValueStore)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(syncsvc.NewGuard),
	fx.Provide(provideRegistry),
	fx.Provide(provideCommitPublisher),
	fx.Provide(provideCacheService),
	fx.Provide(provideBackendClient),
	fx.Provide(func(c *backendinfra.Client) ports.Backend { return c }),
	fx.Provide(provideAssetStore),
	fx.Provide(provideOrchestrator),
	fx.Provide(session.NewManager),
	fx.Provide(session.NewService),
	fx.Provide(records.NewService),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideRegistry(ctx context.Context, cfg config.Config) (*syncsvc.Registry, error) {
	path := cfg.Sync.CollectionsFile
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logging.Warn(ctx, "collections file not found, using built-in registry",
				slog.String("path", path))
			path = ""
		}
	}
	return syncsvc.NewRegistry(path)
}

// provideCommitPublisher returns nil when the commit bus is disabled; the
// cache service treats a nil publisher as "no bus".
func provideCommitPublisher(lc fx.Lifecycle, cfg config.Config) (ports.CommitPublisher, error) {
	if !cfg.Notify.Enabled {
		return nil, nil
	}

	publisher, err := notify.NewPublisher(cfg.Notify.URL, cfg.Notify.Subject)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

func provideCacheService(store ports.KeyValueStore, guard *syncsvc.Guard, uow ports.UnitOfWork, publisher ports.CommitPublisher) *cachesvc.Service {
	return cachesvc.NewService(store, guard, uow, publisher)
}

func provideBackendClient(cfg config.Config) (*backendinfra.Client, error) {
	return backendinfra.NewClient(backendinfra.Config{
		BaseURL:        cfg.Backend.BaseURL,
		APIKey:         cfg.Backend.APIKey,
		ServiceRoleKey: cfg.Backend.ServiceRoleKey,
		ProjectRef:     cfg.Backend.ProjectRef,
	})
}

func provideAssetStore(cfg config.Config) (ports.BlobStore, error) {
	return assets.NewStore(cfg.Assets.Dir)
}

func provideOrchestrator(backend ports.Backend, cache *cachesvc.Service, guard *syncsvc.Guard, registry *syncsvc.Registry, cfg config.Config) *syncsvc.Orchestrator {
	elevated := cfg.Backend.ServiceRoleKey != ""
	return syncsvc.NewOrchestrator(backend, cache, guard, registry, elevated)
}
