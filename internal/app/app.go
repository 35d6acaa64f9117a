// Package app assembles the wired components into one process: the HTTP
// gateway in front, the queue worker behind it, and the operator surfaces
// the CLI reaches for.
package app

import (
	"log/slog"

	"github.com/casthq/shophand/internal/config"
	"github.com/casthq/shophand/internal/core"
	"github.com/casthq/shophand/internal/durable"
	"github.com/casthq/shophand/internal/reconcile"
	"github.com/casthq/shophand/internal/server"
	"github.com/casthq/shophand/internal/storage"
)

// App holds the main application components. The exported fields are the
// surfaces operator commands drive directly; Start and Stop manage the
// long-running pieces.
type App struct {
	Registry   core.Registry
	Shops      core.ShopSource
	Store      storage.Store
	Reconciler *reconcile.Reconciler

	cfg    *config.Config
	server *server.Server
	worker *durable.Worker
	logger *slog.Logger
}

// NewApp collects the wired components.
func NewApp(
	cfg *config.Config,
	registry core.Registry,
	shops core.ShopSource,
	store storage.Store,
	reconciler *reconcile.Reconciler,
	srv *server.Server,
	worker *durable.Worker,
	logger *slog.Logger,
) *App {
	return &App{
		Registry:   registry,
		Shops:      shops,
		Store:      store,
		Reconciler: reconciler,
		cfg:        cfg,
		server:     srv,
		worker:     worker,
		logger:     logger,
	}
}

// Start brings the run worker up, then serves HTTP. It blocks until the
// server stops.
func (a *App) Start() error {
	a.logger.Info("starting shophand",
		"port", a.cfg.Server.Port,
		"public_url", a.cfg.Server.PublicURL,
		"queue", a.cfg.Dispatch.Queue,
		"concurrency", a.cfg.Dispatch.Concurrency,
	)

	if err := a.worker.Start(); err != nil {
		return err
	}
	return a.server.Start()
}

// Stop shuts the process down cleanly: the HTTP server first so no new
// deliveries arrive, then the worker so in-flight runs drain.
func (a *App) Stop() error {
	a.logger.Info("shutting down shophand")

	serverErr := a.server.Stop()
	if serverErr != nil {
		a.logger.Error("error during HTTP server shutdown", "error", serverErr)
	}

	a.worker.Shutdown()

	if serverErr != nil {
		return serverErr
	}
	a.logger.Info("shophand stopped")
	return nil
}
