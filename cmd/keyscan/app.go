package main

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MJE43/keyscan/internal/activity"
	"github.com/MJE43/keyscan/internal/api"
	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/config"
	"github.com/MJE43/keyscan/internal/logging"
	"github.com/MJE43/keyscan/internal/matchlog"
	"github.com/MJE43/keyscan/internal/runner"
	"github.com/MJE43/keyscan/internal/store"
)

// app holds the long-lived components shared by serve and scan.
type app struct {
	cfg         config.Config
	logger      *zap.Logger
	activity    *activity.Log
	matches     *matchlog.Writer
	checkpoints checkpoint.Store
	db          *store.SQLiteDB
	runner      *runner.Runner

	closers []func() error
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.open(ctx); err != nil {
		return nil, multierr.Append(err, a.closeResources())
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	cfg := a.cfg
	var err error

	if a.activity, err = activity.Open(cfg.Files.Log); err != nil {
		return err
	}
	a.closers = append(a.closers, a.activity.Close)

	if a.logger, err = logging.New(cfg.Logging(), a.activity.Core(zapcore.InfoLevel)); err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		_ = a.logger.Sync()
		return nil
	})

	if a.matches, err = matchlog.Open(cfg.Files.Matches); err != nil {
		return err
	}
	a.closers = append(a.closers, a.matches.Close)

	if a.checkpoints, err = openCheckpoints(cfg); err != nil {
		return err
	}

	opts := []runner.Option{
		runner.WithLogger(a.logger),
		runner.WithDefaultWorkers(cfg.Scan.Workers),
		runner.WithPollInterval(cfg.Scan.PausePollInterval),
		runner.WithProgressEvery(cfg.Scan.ProgressEvery),
		runner.WithCheckpointEvery(cfg.Scan.CheckpointEvery),
		runner.WithDeletePolicy(cfg.Policy()),
		runner.WithEngineVersion(api.GetVersionInfo().EngineVersion),
	}
	if cfg.Files.Database != "" {
		if a.db, err = store.NewSQLiteDB(cfg.Files.Database); err != nil {
			return err
		}
		a.closers = append(a.closers, a.db.Close)
		if err = a.db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate %s: %w", cfg.Files.Database, err)
		}
		opts = append(opts, runner.WithHistory(a.db))
	}

	a.runner = runner.New(a.checkpoints, a.matches, a.activity, opts...)
	return nil
}

func openCheckpoints(cfg config.Config) (checkpoint.Store, error) {
	if cfg.Checkpoint.Backend == config.BackendBolt {
		s, err := checkpoint.OpenBoltStore(cfg.Files.Checkpoint)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return checkpoint.NewFileStore(cfg.Files.Checkpoint), nil
}

// history returns the run store as an interface, nil when disabled.
func (a *app) history() store.DB {
	if a.db == nil {
		return nil
	}
	return a.db
}

// Close stops any running scan and releases resources in reverse order.
func (a *app) Close(ctx context.Context) error {
	var err error
	if a.runner != nil {
		err = a.runner.Close(ctx)
	}
	return multierr.Append(err, a.closeResources())
}

func (a *app) closeResources() error {
	var err error
	if c, ok := a.checkpoints.(interface{ Close() error }); ok {
		err = multierr.Append(err, c.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
