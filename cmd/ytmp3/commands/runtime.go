package commands

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/ytmp3/am"
	"github.com/teranos/ytmp3/artifact"
	"github.com/teranos/ytmp3/db"
	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/extract"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
)

// serviceAnnotation marks long-running commands, which log at Info by default
const serviceAnnotation = "service"

// IsService reports whether cmd is a long-running service command
func IsService(cmd *cobra.Command) bool {
	return cmd.Annotations[serviceAnnotation] == "true"
}

var serviceAnnotations = map[string]string{serviceAnnotation: "true"}

// runtime holds the collaborators shared by serve, worker and janitor
type runtime struct {
	cfg       *am.Config
	db        *sql.DB
	store     *async.SQLStore
	queue     *async.SQLQueue
	artifacts async.ArtifactStore
	naming    async.Naming
	log       *zap.SugaredLogger
}

// loadConfig loads and validates configuration
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// openDatabase opens and migrates the configured database.
// dbPath overrides the configured path when set.
func openDatabase(cfg *am.Config, dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}
	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	database, err := openDatabase(cfg, "")
	if err != nil {
		return nil, err
	}
	artifacts, err := artifact.New(ctx, cfg.Artifacts, logger.Logger)
	if err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to open artifact store")
	}
	return &runtime{
		cfg:       cfg,
		db:        database,
		store:     async.NewSQLStore(database),
		queue:     async.NewSQLQueue(database, cfg.Worker.VisibilityTimeout, nil),
		artifacts: artifacts,
		naming:    async.Naming{Ext: cfg.GetExtension()},
		log:       logger.Logger,
	}, nil
}

// extractor builds the yt-dlp extractor with probe rate limiting
func (rt *runtime) extractor() (async.Extractor, error) {
	y, err := extract.New(rt.cfg.Extractor, rt.log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure extractor")
	}
	return extract.NewLimited(y, rt.cfg.Extractor.ProbeRate, rt.cfg.Extractor.ProbeBurst), nil
}

func (rt *runtime) newWorker(ex async.Extractor) *async.Worker {
	return async.NewWorker(rt.store, rt.queue, rt.artifacts, ex, async.WorkerConfig{
		MaxDuration: rt.cfg.Dispatch.MaxDuration,
		CoolDown:    rt.cfg.Worker.CoolDown,
		CallTimeout: rt.cfg.Worker.CallTimeout,
		WorkDir:     rt.cfg.Worker.WorkDir,
		Naming:      rt.naming,
	}, rt.log)
}

func (rt *runtime) poolConfig(workers int) async.WorkerPoolConfig {
	poolCfg := async.DefaultWorkerPoolConfig()
	poolCfg.Workers = workers
	poolCfg.PollInterval = rt.cfg.Worker.PollInterval
	poolCfg.BatchSize = rt.cfg.Worker.BatchSize
	return poolCfg
}

func (rt *runtime) Close() error {
	return rt.db.Close()
}

// signalContext is cancelled on the first Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// watchConfig reloads tunables from the project am.toml when it changes.
// Returns nil when there is no project config file.
func watchConfig(callbacks ...am.ReloadCallback) *am.ConfigWatcher {
	path := am.ProjectConfigPath()
	if path == "" {
		return nil
	}
	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Config hot reload disabled", logger.FieldError, err)
		return nil
	}
	for _, cb := range callbacks {
		watcher.OnReload(cb)
	}
	watcher.Start()
	logger.Infow("Watching config for changes", "path", path)
	return watcher
}
