// Package app wires a workspace into a ready engine for the CLI and server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"expertdraw/internal/config"
	"expertdraw/internal/db"
	"expertdraw/internal/engine"
	"expertdraw/internal/lock"
	"expertdraw/internal/logger"
	"expertdraw/internal/metrics"
	"expertdraw/internal/migrate"
)

type Options struct {
	Workspace string
	LogMode   string
	LogLevel  string
	// Logger overrides LogMode and LogLevel when set.
	Logger *logger.Logger
}

// App owns the resources opened for one workspace.
type App struct {
	DB      *sql.DB
	Config  *config.Config
	Engine  engine.Engine
	Log     *logger.Logger
	Metrics *metrics.Metrics

	closers []func() error
}

// Open prepares the workspace: database, migrations, configuration,
// logging, metrics and the per-draw lock backend.
func Open(ctx context.Context, opts Options) (*App, error) {
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := opts.Logger
	if log == nil {
		if log, err = logger.New(opts.LogMode, opts.LogLevel); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	a := &App{DB: conn, Config: cfg, Log: log, Metrics: metrics.New()}
	a.closers = append(a.closers, conn.Close)
	if err := migrate.Migrate(conn); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn, cfg)
	e.Log = log.With("service", "engine")
	e.Metrics = a.Metrics
	if cfg.Lock.Backend == "redis" {
		rl, err := lock.NewRedis(ctx, cfg.Lock.Redis.Addr, cfg.Lock.Redis.Prefix, cfg.LockTTL(), cfg.LockWait(), log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rl.Close)
		e.Locker = rl
	}
	a.Engine = e
	log.Debug("workspace opened", "workspace", opts.Workspace, "lock_backend", cfg.Lock.Backend)
	return a, nil
}

// Close releases everything Open acquired, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.Log != nil {
		a.Log.Sync()
	}
	return errors.Join(errs...)
}
