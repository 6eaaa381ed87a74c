package wire

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/wire"
	"github.com/spf13/viper"

	"github.com/sevigo/pr-warden/internal/agent"
	"github.com/sevigo/pr-warden/internal/app"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/db"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/gitutil"
	"github.com/sevigo/pr-warden/internal/jobs"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/logger"
	"github.com/sevigo/pr-warden/internal/server"
	"github.com/sevigo/pr-warden/internal/snapshot"
	"github.com/sevigo/pr-warden/internal/storage"
)

// CommonSet builds what both the server and the CLIs need once a
// *config.Config is available.
var CommonSet = wire.NewSet(
	provideLogWriter,
	provideLogger,
	provideDBConfig,
	db.NewDatabase,
	provideStore,
	provideSweeper,
	provideInvoker,
	provideSnapshotBuilder,
	llm.NewPromptManager,
)

// ServerSet adds the GitHub App client, the jobs and the HTTP server.
var ServerSet = wire.NewSet(
	CommonSet,
	config.LoadConfig,
	provideHTTPClient,
	github.NewClientProvider,
	provideJobDeps,
	provideJobs,
	provideDispatcher,
	provideServer,
	app.NewApp,
)

// ToolsSet is the CLI variant with relaxed config validation.
var ToolsSet = wire.NewSet(
	CommonSet,
	provideCLIConfig,
	app.NewTools,
)

func provideCLIConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.New(), ".env")
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateForCLI(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func provideLogWriter(cfg *config.Config) io.Writer {
	return logger.OpenOutput(cfg.Logging)
}

func provideLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logger.NewLogger(cfg.Logging, w)
}

func provideDBConfig(cfg *config.Config) *config.DBConfig {
	return &cfg.Database
}

func provideStore(conn *db.DB) storage.Store {
	return storage.NewStore(conn.DB)
}

func provideSweeper(cfg *config.Config, store storage.Store, logger *slog.Logger) *jobs.Sweeper {
	policy := core.StalePolicy{Queued: cfg.Worker.StaleQueued, Running: cfg.Worker.StaleRunning}
	return jobs.NewSweeper(store, policy, logger)
}

func provideInvoker(cfg *config.Config, logger *slog.Logger) agent.Invoker {
	return agent.NewRunner(&cfg.Agent, logger)
}

func provideSnapshotBuilder(cfg *config.Config, logger *slog.Logger) jobs.SnapshotBuilder {
	fetcher := gitutil.NewShallowFetcher(cfg.Snapshot.GitBinary, cfg.Snapshot.GitTimeout, logger)
	return snapshot.NewBuilder(cfg.Snapshot, cfg.GitHub.WebURL, fetcher, logger)
}

func provideHTTPClient(cfg *config.Config) *http.Client {
	return github.NewHTTPClient(&cfg.GitHub)
}

func provideJobDeps(
	cfg *config.Config,
	store storage.Store,
	clients github.ClientProvider,
	invoker agent.Invoker,
	snap jobs.SnapshotBuilder,
	prompts *llm.PromptManager,
	logger *slog.Logger,
) jobs.Deps {
	return jobs.Deps{
		Config:   cfg,
		Store:    store,
		Clients:  clients,
		Invoker:  invoker,
		Snapshot: snap,
		Prompts:  prompts,
		Logger:   logger,
	}
}

func provideJobs(d jobs.Deps) map[core.TaskKind]core.Job {
	return map[core.TaskKind]core.Job{
		core.TaskReview: jobs.NewReviewJob(d),
		core.TaskChat:   jobs.NewChatJob(d),
	}
}

func provideDispatcher(cfg *config.Config, handlers map[core.TaskKind]core.Job, logger *slog.Logger) jobs.Dispatcher {
	return jobs.NewDispatcher(handlers, cfg.Worker.MaxWorkers, cfg.Worker.QueueSize, logger)
}

func provideServer(cfg *config.Config, store storage.Store, dispatcher jobs.Dispatcher, sweeper *jobs.Sweeper, logger *slog.Logger) *server.Server {
	return server.NewServer(cfg, store, dispatcher, sweeper, logger)
}
