package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wolfman30/clinic-booking-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-booking-agent/internal/config"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting clinic booking API",
		"env", cfg.Env,
		"port", cfg.Port,
		"clinic", cfg.ClinicName,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, cleanup, err := buildInfra(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize infrastructure", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	app, err := bootstrap.Build(cfg, infra, logger)
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}
	if _, err := app.SeedCalendar(ctx, time.Now()); err != nil {
		logger.Error("failed to seed calendar", "error", err)
		os.Exit(1)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		app.RunWorkers(workerCtx)
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancelWorkers()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not stop before the shutdown deadline")
	}
	logger.Info("server stopped")
}

// buildInfra connects the optional backing services. The returned cleanup
// closes whatever was opened.
func buildInfra(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (bootstrap.Infra, func(), error) {
	infra := bootstrap.Infra{Registry: newRegistry()}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pool, err := bootstrap.BuildPool(ctx, cfg, logger)
	if err != nil {
		return infra, cleanup, err
	}
	if pool != nil {
		infra.Pool = pool
		closers = append(closers, pool.Close)
	} else {
		logger.Warn("DATABASE_URL not set; appointments and patients are kept in memory")
	}

	if client := bootstrap.BuildRedisClient(ctx, cfg, logger, true); client != nil {
		infra.Redis = client
		closers = append(closers, func() { _ = client.Close() })
	}

	interp, err := bootstrap.BuildInterpreter(ctx, cfg, logger)
	if err != nil {
		return infra, cleanup, err
	}
	infra.Interpreter = interp

	gw, err := bootstrap.BuildGateway(ctx, cfg, logger)
	if err != nil {
		return infra, cleanup, err
	}
	infra.Gateway = gw
	return infra, cleanup, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
