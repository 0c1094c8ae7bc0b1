package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"jobdemo/internal/adapter/httpapi"
	"jobdemo/internal/config"
	"jobdemo/internal/jobs"
	"jobdemo/internal/metrics"
	"jobdemo/internal/platform/logger"
	"jobdemo/internal/platform/pg"
	"jobdemo/internal/storage/pgstore"
	"jobdemo/internal/storage/sqlitestore"
)

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger

	// ready receives the bound listener address once serving; tests only.
	ready chan<- net.Addr
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "jobdemo",
	})
	return NewWithConfig(cfg, log), nil
}

// NewWithConfig builds an App from already loaded configuration.
func NewWithConfig(cfg config.Config, log *slog.Logger) *App {
	return &App{cfg: cfg, log: log}
}

// Close flushes the log file.
func (a *App) Close() error {
	return logger.Close(a.log)
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then shuts
// down the HTTP server and the job server.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting", "storage", a.cfg.Storage.Driver, "addr", a.cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.log.Warn("close store", "error", err)
		}
	}()

	m := metrics.New()
	srv, err := jobs.NewServer(jobs.Options{
		Store:           store,
		Registry:        NewRegistry(a.log),
		Logger:          a.log,
		Hooks:           m.JobHooks(),
		PeriodicHooks:   m.PeriodicHooks(),
		Workers:         a.cfg.Jobs.Workers,
		QueueSize:       a.cfg.Jobs.QueueSize,
		MaxAttempts:     a.cfg.Jobs.MaxAttempts,
		Timeout:         a.cfg.Jobs.Timeout,
		PollInterval:    a.cfg.Jobs.PollInterval,
		Retention:       a.cfg.Jobs.Retention,
		CleanupSchedule: a.cfg.Jobs.Cleanup,
	})
	if err != nil {
		return err
	}
	m.ObserveQueue(srv.QueueLength, srv.QueueCapacity)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start job server: %w", err)
	}

	if a.cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Jobs:          srv,
		Logger:        a.log,
		Metrics:       m.Handler(),
		RecurringCron: a.cfg.Jobs.RecurringCron,
	})

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		_ = srv.Stop(context.Background())
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.log.Info("http listening", "addr", ln.Addr().String())
	if a.ready != nil {
		a.ready <- ln.Addr()
	}

	hs := &http.Server{Handler: router}
	serveErr := make(chan error, 1)
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		a.log.Error("http server", "error", runErr)
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	return errors.Join(runErr, hs.Shutdown(shutdownCtx), srv.Stop(shutdownCtx))
}

// Migrate applies the schema of the configured SQL backend.
func (a *App) Migrate(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "sqlite":
		store, err := sqlitestore.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		a.log.Info("sqlite schema up to date", "path", a.cfg.Storage.SQLitePath)
		return store.Close()
	case "postgres":
		if err := a.waitForPostgres(ctx); err != nil {
			return err
		}
		info, err := pgstore.Migrate(a.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		a.log.Info("postgres schema up to date",
			"applied", info.Applied,
			"from_version", info.CurrentVersion,
			"version", info.FinalVersion,
		)
		return nil
	default:
		a.log.Info("nothing to migrate", "storage", a.cfg.Storage.Driver)
		return nil
	}
}

func (a *App) openStore(ctx context.Context) (jobs.Store, error) {
	switch a.cfg.Storage.Driver {
	case "sqlite":
		return sqlitestore.Open(ctx, a.cfg.Storage.SQLitePath)
	case "postgres":
		if err := a.waitForPostgres(ctx); err != nil {
			return nil, err
		}
		return pgstore.Open(ctx, a.cfg.Storage.PostgresDSN, pg.DefaultPoolOptions())
	case "memory":
		return jobs.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
}

func (a *App) waitForPostgres(ctx context.Context) error {
	opts := pg.DefaultWaitOptions()
	opts.Logger = a.log
	return pg.WaitForDB(ctx, a.cfg.Storage.PostgresDSN, opts)
}
