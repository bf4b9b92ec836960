package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/searchktools/mini-server/config"
	"github.com/searchktools/mini-server/core"
	"github.com/searchktools/mini-server/logging"
)

// App ties configuration, logging and the engine together
type App struct {
	cfg     *config.Config
	engine  *core.Engine
	logger  *slog.Logger
	onStart func(port int)
}

// New creates an application instance whose engine follows cfg
func New(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	engine := core.NewEngine(core.Options{
		ReadTimeout:     cfg.ReadTimeout,
		RequestTimeout:  cfg.RequestTimeout,
		MaxRequestBytes: cfg.MaxRequestBytes,
		WriteTimeout:    cfg.WriteTimeout,
		Logger:          logger,
	})
	return NewWithEngine(cfg, engine, logger)
}

// NewWithEngine creates an application instance with a pre-configured engine
func NewWithEngine(cfg *config.Config, engine *core.Engine, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:    cfg,
		engine: engine,
		logger: logging.WithComponent(logger, "app"),
	}
}

// Engine returns the underlying engine for route registration
func (a *App) Engine() *core.Engine {
	return a.engine
}

// OnStart registers fn to be called with the bound port once the server
// listens
func (a *App) OnStart(fn func(port int)) {
	a.onStart = fn
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then stops
// accepting connections and waits for in-flight requests to finish.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var startErr error
	srv := a.engine.Start(a.cfg.Port, func(err error) { startErr = err })
	if startErr != nil {
		return fmt.Errorf("start server on port %d: %w", a.cfg.Port, startErr)
	}

	a.logger.Info("🚀 server listening", "port", srv.Port(), "env", a.cfg.Env, "routes", a.engine.Router().Len())
	if a.onStart != nil {
		a.onStart(srv.Port())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-srv.Done()
		return srv.Err()
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			a.logger.Info("shutting down, draining in-flight requests")
			srv.Stop()
		case <-srv.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	stats := a.engine.Stats()
	a.logger.Info("server stopped", "outcomes", stats.Outcomes)
	return nil
}
