// Code generated manually. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package wire

import (
	"context"
	"fmt"

	"github.com/casthq/shophand/internal/app"
	"github.com/casthq/shophand/internal/server"
)

// InitializeApp creates and wires all application dependencies. The returned
// cleanup closes the queue client, the redis connection, and the run journal.
func InitializeApp(_ context.Context) (*app.App, func(), error) {
	cfg, err := provideConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := provideLogger(cfg)

	reg, err := provideRegistry(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load job registry: %w", err)
	}

	shops, err := provideShops(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load shop credentials: %w", err)
	}

	store, storeCleanup, err := provideStore(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	redisClient, redisCleanup := provideRedisClient(cfg, log)
	redisOpt := provideRedisOpt(cfg)

	blobs := provideBlobStore(redisClient, cfg)
	journal := provideStepJournal(redisClient, cfg)

	launcher, launcherCleanup := provideLauncher(redisOpt, cfg, log)

	notifier := provideNotifier(log)
	clients := provideClientFactory(log)
	subs := provideSubscriptionFactory(cfg, log)

	executor := provideRunner(reg, blobs, clients, notifier, cfg, log)
	worker := provideWorker(redisOpt, cfg, executor, journal, store, log)

	gateway := provideGateway(reg, shops, clients, launcher, blobs, cfg, log)
	srv := server.NewServer(cfg, gateway, log)

	reconciler := provideReconciler(reg, shops, subs, cfg, log)

	application := app.NewApp(cfg, reg, shops, store, reconciler, srv, worker, log)

	cleanup := func() {
		launcherCleanup()
		redisCleanup()
		storeCleanup()
	}
	return application, cleanup, nil
}
