// Package app holds the assembled pr-warden components: the webhook server
// with its worker pool, and the lighter tool set used by the operator CLIs.
package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sevigo/pr-warden/internal/agent"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/jobs"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/server"
	"github.com/sevigo/pr-warden/internal/storage"
)

// App holds the main application components.
type App struct {
	Cfg        *config.Config
	Store      storage.Store
	Dispatcher jobs.Dispatcher
	Sweeper    *jobs.Sweeper
	Logger     *slog.Logger
	server     *server.Server
}

// NewApp sets up the application with all its dependencies.
func NewApp(cfg *config.Config, store storage.Store, dispatcher jobs.Dispatcher, sweeper *jobs.Sweeper, srv *server.Server, logger *slog.Logger) *App {
	return &App{
		Cfg:        cfg,
		Store:      store,
		Dispatcher: dispatcher,
		Sweeper:    sweeper,
		Logger:     logger,
		server:     srv,
	}
}

// Run serves webhooks and sweeps stale runs until ctx is cancelled or the
// server fails. Queued tasks are drained before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.Logger.Info("starting pr-warden",
		"server_port", a.Cfg.Server.Port,
		"max_workers", a.Cfg.Worker.MaxWorkers,
		"queue_size", a.Cfg.Worker.QueueSize,
		"database", a.Cfg.Database.Driver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.server.Start)
	g.Go(func() error {
		return a.Sweeper.Loop(gctx, a.Cfg.Worker.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.server.Stop()
	})

	err := g.Wait()

	// Stop the job dispatcher, allowing in-flight jobs to finish.
	a.Dispatcher.Stop()
	stats := a.Dispatcher.Stats()
	if err != nil {
		a.Logger.Error("pr-warden stopped with errors", "error", err, "processed", stats.Processed, "failed", stats.Failed)
		return err
	}
	a.Logger.Info("pr-warden stopped", "processed", stats.Processed, "failed", stats.Failed)
	return nil
}

// Tools is what the operator CLIs need: storage, stale reconciliation and
// the pieces of the review pipeline that run without a GitHub App.
type Tools struct {
	Cfg      *config.Config
	Store    storage.Store
	Sweeper  *jobs.Sweeper
	Invoker  agent.Invoker
	Snapshot jobs.SnapshotBuilder
	Prompts  *llm.PromptManager
	Logger   *slog.Logger
}

func NewTools(cfg *config.Config, store storage.Store, sweeper *jobs.Sweeper, invoker agent.Invoker, snap jobs.SnapshotBuilder, prompts *llm.PromptManager, logger *slog.Logger) *Tools {
	return &Tools{
		Cfg:      cfg,
		Store:    store,
		Sweeper:  sweeper,
		Invoker:  invoker,
		Snapshot: snap,
		Prompts:  prompts,
		Logger:   logger,
	}
}
