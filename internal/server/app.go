// Package server assembles the archive server: it wires the domain services,
// runs the background workers and serves gRPC and Prometheus metrics until
// a shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/config"
	"github.com/dmitrijs2005/archivekeeper/internal/server/metrics"

	gs "github.com/dmitrijs2005/archivekeeper/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	services *Services
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	svc, err := Bootstrap(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	return &App{config: c, logger: logger, services: svc}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	api := gs.NewArchiveService(app.services.Users, app.services.Grants, app.services.Gate, app.logger)
	s := gs.NewServer(app.config.EndpointAddrGRPC, app.logger, app.services.Users, gs.ArchiveRegistration(api))
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(app.services.Registry))

	srv := &http.Server{
		Addr:              app.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "metrics server failed", "error", err)
		cancelFunc()
	}
}

// Run blocks until a signal arrives or a server fails, then waits for every
// worker to stop and closes the database.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(4)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.services.Sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		app.services.Usage.Run(ctx)
	}()

	wg.Wait()

	if err := app.services.DB.Close(); err != nil {
		app.logger.Error(context.Background(), "closing database", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
