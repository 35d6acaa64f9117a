package wire

import (
	"log/slog"

	"github.com/google/wire"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/casthq/shophand/internal/app"
	"github.com/casthq/shophand/internal/blob"
	"github.com/casthq/shophand/internal/config"
	"github.com/casthq/shophand/internal/core"
	"github.com/casthq/shophand/internal/db"
	"github.com/casthq/shophand/internal/dispatch"
	"github.com/casthq/shophand/internal/durable"
	"github.com/casthq/shophand/internal/logger"
	"github.com/casthq/shophand/internal/notify"
	"github.com/casthq/shophand/internal/reconcile"
	"github.com/casthq/shophand/internal/registry"
	"github.com/casthq/shophand/internal/server"
	"github.com/casthq/shophand/internal/server/handler"
	"github.com/casthq/shophand/internal/shopify"
	"github.com/casthq/shophand/internal/storage"
)

// AppSet wires every component of the shophand process.
var AppSet = wire.NewSet(
	app.NewApp,
	server.NewServer,
	provideConfig,
	provideLogger,
	provideRegistry,
	provideShops,
	provideStore,
	provideRedisClient,
	provideRedisOpt,
	provideBlobStore,
	provideStepJournal,
	provideLauncher,
	provideNotifier,
	provideClientFactory,
	provideSubscriptionFactory,
	provideRunner,
	provideWorker,
	provideGateway,
	provideReconciler,
)

func provideConfig() (*config.Config, error) {
	return config.Load("")
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return logger.NewLogger(cfg.Logging, nil)
}

func provideRegistry(cfg *config.Config, log *slog.Logger) (core.Registry, error) {
	reg, err := registry.Load(registry.Options{LocalDir: cfg.Jobs.Dir, Logger: log})
	if err != nil {
		return nil, err
	}
	return reg.Freeze(), nil
}

func provideShops(cfg *config.Config) (core.ShopSource, error) {
	return config.LoadShops(cfg.Jobs.ShopsFile, cfg.Jobs.DefaultShop)
}

// provideStore connects the run journal. An empty DSN means no journal; runs
// still execute, the history commands just have nothing to show.
func provideStore(cfg *config.Config, log *slog.Logger) (storage.Store, func(), error) {
	if cfg.Database.DSN == "" {
		log.Info("run journal disabled, no database.dsn configured")
		return storage.NewNoopStore(), func() {}, nil
	}

	dbConn, cleanup, err := db.NewDatabase(cfg.Database.DSN, log)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewStore(dbConn.DB), cleanup, nil
}

func provideRedisClient(cfg *config.Config, log *slog.Logger) (*redis.Client, func()) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return client, func() {
		if err := client.Close(); err != nil {
			log.Warn("failed to close redis client", "error", err)
		}
	}
}

func provideRedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// provideBlobStore keys offloaded payloads to the same TTL as step results:
// both must outlive the host's longest retry horizon.
func provideBlobStore(client *redis.Client, cfg *config.Config) core.BlobStore {
	return blob.NewRedisStore(client, cfg.Dispatch.StepTTL)
}

func provideStepJournal(client *redis.Client, cfg *config.Config) *durable.StepJournal {
	return durable.NewStepJournal(client, cfg.Dispatch.StepTTL)
}

func provideLauncher(redisOpt asynq.RedisClientOpt, cfg *config.Config, log *slog.Logger) (core.Launcher, func()) {
	return durable.NewLauncher(redisOpt, cfg.Dispatch, log)
}

func provideNotifier(log *slog.Logger) core.Notifier {
	return notify.NewSlackNotifier(nil, log)
}

func provideClientFactory(log *slog.Logger) core.ClientFactory {
	return func(shop *core.ShopConfig, apiVersion string) (core.CommerceAPI, error) {
		return shopify.NewClient(shop, apiVersion, log)
	}
}

func provideSubscriptionFactory(cfg *config.Config, log *slog.Logger) core.SubscriptionFactory {
	return func(shop *core.ShopConfig) (core.SubscriptionAPI, error) {
		return shopify.NewSubscriptionClient(shop, cfg.Shopify.APIVersion, log)
	}
}

func provideRunner(
	reg core.Registry,
	blobs core.BlobStore,
	clients core.ClientFactory,
	notifier core.Notifier,
	cfg *config.Config,
	log *slog.Logger,
) durable.RunExecutor {
	return dispatch.NewRunner(dispatch.RunnerConfig{
		Registry:   reg,
		Blobs:      blobs,
		Clients:    clients,
		Notifier:   notifier,
		Env:        cfg.Jobs.Env,
		APIVersion: cfg.Shopify.APIVersion,
		Logger:     log,
	})
}

func provideWorker(
	redisOpt asynq.RedisClientOpt,
	cfg *config.Config,
	executor durable.RunExecutor,
	journal *durable.StepJournal,
	store storage.Store,
	log *slog.Logger,
) *durable.Worker {
	return durable.NewWorker(redisOpt, cfg.Dispatch, executor, journal, store, log)
}

func provideGateway(
	reg core.Registry,
	shops core.ShopSource,
	clients core.ClientFactory,
	launcher core.Launcher,
	blobs core.BlobStore,
	cfg *config.Config,
	log *slog.Logger,
) *handler.GatewayHandler {
	return handler.NewGatewayHandler(handler.GatewayConfig{
		Registry:   reg,
		Shops:      shops,
		Clients:    clients,
		Launcher:   launcher,
		Blobs:      blobs,
		Env:        cfg.Jobs.Env,
		APIVersion: cfg.Shopify.APIVersion,
		Logger:     log,
	})
}

func provideReconciler(
	reg core.Registry,
	shops core.ShopSource,
	subs core.SubscriptionFactory,
	cfg *config.Config,
	log *slog.Logger,
) *reconcile.Reconciler {
	return reconcile.NewReconciler(reconcile.ReconcilerConfig{
		Registry:  reg,
		Shops:     shops,
		Subs:      subs,
		PublicURL: cfg.Server.PublicURL,
		Crons:     cfg.Schedule.Crons,
		Logger:    log,
	})
}
