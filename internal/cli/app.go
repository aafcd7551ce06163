package cli

import (
	"fmt"
	"log/slog"

	"github.com/svgtranslate/svgbatch/internal/config"
	"github.com/svgtranslate/svgbatch/internal/db"
	"github.com/svgtranslate/svgbatch/internal/jobs"
	"github.com/svgtranslate/svgbatch/internal/remote"
	"github.com/svgtranslate/svgbatch/internal/worker"
)

// app wires the persistence layer for a command invocation. The
// dispatcher side is built separately because it needs a reachable
// content host, which listing commands do not.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	pools  *db.Pools
	tasks  *db.TaskStore
	jobs   *db.JobStore
	files  *jobs.FileStore
}

// newApp loads configuration, runs migrations and builds the stores.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	poolsCfg := cfg.DBPools()

	// Migrations run on a dedicated handle so the pools never see a
	// half-migrated schema.
	database, err := db.OpenWithDialect(poolsCfg.DSN, poolsCfg.Dialect)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate("app"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := database.Close(); err != nil {
		return nil, fmt.Errorf("close migration handle: %w", err)
	}

	pools := db.NewPools(poolsCfg, logger)

	background, err := pools.Background()
	if err != nil {
		return nil, fmt.Errorf("background pool: %w", err)
	}
	exec := db.NewExecutor(background, logger)

	files, err := jobs.NewFileStore(cfg.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("results store: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		pools:  pools,
		tasks:  db.NewTaskStore(exec),
		jobs:   db.NewJobStore(exec),
		files:  files,
	}, nil
}

// interactiveTasks returns a task store over the interactive pool, for
// commands serving a waiting operator.
func (a *app) interactiveTasks() (*db.TaskStore, error) {
	pool, err := a.pools.Interactive()
	if err != nil {
		return nil, err
	}
	return db.NewTaskStore(db.NewExecutor(pool, a.logger)), nil
}

// dispatcher builds the job dispatcher with every known job type
// registered against the configured content host.
func (a *app) dispatcher() (*jobs.Dispatcher, error) {
	host, err := remote.NewClient(a.cfg.RemoteClient(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("content host client: %w", err)
	}

	deps := jobs.Deps{
		Tasks:  a.tasks,
		Stages: a.tasks.Stages(),
		Host:   host,
		Sink:   a.files,
		Config: a.cfg.PipelineSettings(),
		Logger: a.logger,
	}

	runner := worker.NewRunner(a.jobs, a.files, a.logger)
	d := jobs.NewDispatcher(a.jobs, runner, a.logger)
	d.Register(jobs.TypeCrop, jobs.NewCropFactory(deps))
	d.Register(jobs.TypeCollect, jobs.NewCollectFactory(deps))
	d.Register(jobs.TypeDownload, jobs.NewDownloadFactory(deps, a.cfg.DownloadDir))
	d.Register(jobs.TypeRepair, jobs.NewRepairFactory(deps))
	return d, nil
}

// Close releases the connection pools.
func (a *app) Close() {
	if err := a.pools.DisposeAll(); err != nil {
		a.logger.Warn("dispose pools", "error", err)
	}
}
