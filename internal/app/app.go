// Package app initializes and runs the beamup job runner. It opens the beam
// database, applies migrations, wires the repositories, remote client,
// reconciler and pipeline, and exposes the three job modes the host's queue
// mechanism can trigger: upload, reconcile and sweep.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/beamup/internal/beam"
	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/config"
	"github.com/dmitrijs2005/beamup/internal/logging"
	pgmigrations "github.com/dmitrijs2005/beamup/internal/migrations/postgres"
	sqlitemigrations "github.com/dmitrijs2005/beamup/internal/migrations/sqlite"
	"github.com/dmitrijs2005/beamup/internal/pipeline"
	"github.com/dmitrijs2005/beamup/internal/reconcile"
	"github.com/dmitrijs2005/beamup/internal/records"
	"github.com/dmitrijs2005/beamup/internal/remote"
)

type App struct {
	cfg    *config.Config
	logger logging.Logger
	db     *sql.DB
	repo   beam.Repository
	svc    *beam.Service
	rec    *reconcile.Reconciler
	pipe   *pipeline.Pipeline
}

func NewApp(cfg *config.Config) (*App, error) {
	l := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(l)

	db, repo, store, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	client := remote.NewClient(cfg, logger)
	svc := beam.NewService(repo, store, client, cfg, logger)
	rec := reconcile.NewReconciler(repo, client, cfg, logger)
	pipe := pipeline.New(repo, svc, store, client, rec, cfg, logger)

	return &App{cfg: cfg, logger: logger, db: db, repo: repo, svc: svc, rec: rec, pipe: pipe}, nil
}

func openDatabase(cfg *config.Config) (*sql.DB, beam.Repository, records.Store, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		goose.SetBaseFS(sqlitemigrations.Migrations)
		if err := goose.SetDialect("sqlite3"); err != nil {
			return nil, nil, nil, err
		}
		if err := goose.Up(db, "."); err != nil {
			return nil, nil, nil, err
		}
		return db, beam.NewSQLiteRepository(db), records.NewSQLiteStore(db), nil

	case "pgx":
		db, err := sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		goose.SetBaseFS(pgmigrations.Migrations)
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, nil, nil, err
		}
		if err := goose.Up(db, "."); err != nil {
			return nil, nil, nil, err
		}
		return db, beam.NewPostgresRepository(db), records.NewPostgresStore(db), nil
	}
	return nil, nil, nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
}

func (app *App) Close() error {
	return app.db.Close()
}

// WithSignalContext derives a context cancelled on SIGINT/SIGTERM/SIGQUIT.
func WithSignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}

// RunUpload processes the beams named by the range expression through the
// pipeline and reports the run's exit verdict.
func (app *App) RunUpload(ctx context.Context, rangeExpr string) (pipeline.Result, error) {
	ids, err := beam.ParseRange(rangeExpr)
	if err != nil {
		return pipeline.ResultFailed, err
	}
	report, err := app.pipe.Run(ctx, ids)
	if err != nil {
		return pipeline.ResultFailed, err
	}
	return report.Result(), nil
}

// RunReconcile polls remote status for the beams named by the range
// expression. Item beams refresh their dependent file beams in the same pass.
func (app *App) RunReconcile(ctx context.Context, rangeExpr string) error {
	ids, err := beam.ParseRange(rangeExpr)
	if err != nil {
		return err
	}
	beams, err := app.repo.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, b := range beams {
		var state reconcile.RemoteState
		if b.IsItem() {
			state, err = app.rec.CheckFilesOfItem(ctx, b)
		} else {
			state, err = app.rec.CheckRemoteStatus(ctx, b)
		}
		if err != nil {
			app.logger.Warn(ctx, "reconciliation failed", "beam", b.ID, "error", err)
			continue
		}
		app.logger.Info(ctx, "beam reconciled", "beam", b.ID, "state", state.String(), "process", b.Process)
	}
	return nil
}

// RunSweep picks up leftover work: it pushes every queued beam through the
// pipeline and reconciles every beam still waiting on remote confirmation.
func (app *App) RunSweep(ctx context.Context) error {
	queued, err := app.repo.List(ctx, beam.Filter{
		Processes: []beam.Process{beam.ProcessQueued, beam.ProcessQueuedWaitingBucket},
	})
	if err != nil {
		return err
	}
	if len(queued) > 0 {
		ids := make([]int64, len(queued))
		for i, b := range queued {
			ids[i] = b.ID
		}
		if _, err := app.pipe.Run(ctx, ids); err != nil && !errors.Is(err, common.ErrAccountNotConfigured) {
			return err
		}
	}

	pending, err := app.repo.List(ctx, beam.Filter{
		Processes: []beam.Process{beam.ProcessInProgressWaitingRemote},
	})
	if err != nil {
		return err
	}
	for _, b := range pending {
		if _, err := app.rec.CheckRemoteStatus(ctx, b); err != nil {
			app.logger.Warn(ctx, "reconciliation failed", "beam", b.ID, "error", err)
		}
	}
	return nil
}
