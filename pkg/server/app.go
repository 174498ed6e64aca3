package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	domrepo "MarketLens/internal/domain/repository"
	"MarketLens/internal/usecase"
	"MarketLens/pkg/cache"
	pkgch "MarketLens/pkg/clickhouse"
	"MarketLens/pkg/config"
	xhttp "MarketLens/pkg/http"
	applogger "MarketLens/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	lgr        *applogger.Logger
	engine     *usecase.Engine
	feeds      map[string]domrepo.Feed
	handler    xhttp.Handler
	chClient   *pkgch.Client
	cacheSvc   cache.Service
	snapshots  domrepo.SnapshotStore
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	lgr *applogger.Logger,
	engine *usecase.Engine,
	feeds map[string]domrepo.Feed,
	handler xhttp.Handler,
	chClient *pkgch.Client,
	cacheSvc cache.Service,
	snapshots domrepo.SnapshotStore,
) *App {
	return &App{
		cfg:       cfg,
		lgr:       lgr,
		engine:    engine,
		feeds:     feeds,
		handler:   handler,
		chClient:  chClient,
		cacheSvc:  cacheSvc,
		snapshots: snapshots,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.engine.Run(ctx, a.feeds); err != nil {
		return err
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.lgr.Error("http server start error", applogger.Error(err))
		return err
	}
	a.lgr.Info("serving",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("symbol", a.cfg.Binance.Symbol),
		applogger.String("backend", a.cfg.Backend.Type))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.lgr.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// engine first: closes feeds, drains, saves a final snapshot,
	// then closes the candle sink
	if err := a.engine.Stop(shutdownCtx); err != nil {
		a.lgr.Warn("engine stop error", applogger.Error(err))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.lgr.Error("http shutdown error", applogger.Error(err))
		}
	}

	// the engine has written its final snapshot and no handler can
	// reach the store anymore
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			a.lgr.Warn("snapshot store close error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.lgr.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.cacheSvc != nil {
		if err := a.cacheSvc.Close(); err != nil {
			a.lgr.Warn("cache close error", applogger.Error(err))
		}
	}

	a.lgr.Info("shutdown complete")
	return nil
}
