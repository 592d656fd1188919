// Package main runs the background worker: the orphaned-upload sweep on
// asynq and its periodic schedule.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/smartplant/internal/app"
	"github.com/onnwee/smartplant/internal/config"
	"github.com/onnwee/smartplant/internal/jobs"
	"github.com/onnwee/smartplant/internal/middleware"
	"github.com/onnwee/smartplant/internal/tracing"
)

// workerConcurrency is the number of tasks processed at once.
const workerConcurrency = 2

var errRedisRequired = errors.New("REDIS_URL is required for the worker")

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, errs := config.Load(*configPath)
	env := "development"
	if cfg != nil && cfg.Env != "" {
		env = cfg.Env
	}
	logger := middleware.NewLogger(env)
	slog.SetDefault(logger)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	redisOpt, err := redisConnOpt(cfg)
	if err != nil {
		return err
	}

	tp, err := tracing.NewProvider(tracing.FromConfig(cfg, tracing.ServiceWorker))
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	clients, err := app.NewAWS(ctx, cfg)
	if err != nil {
		return err
	}
	stores, err := app.OpenStores(ctx, cfg, clients, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	reg := prometheus.NewRegistry()
	metrics := app.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		return err
	}
	services, err := app.NewServices(cfg, stores, clients, nil, metrics, logger)
	if err != nil {
		return err
	}

	processor := jobs.NewProcessor(services.Sweeper, jobs.ProcessorConfig{
		DefaultGrace: cfg.SweepGrace,
		Metrics:      metrics.Jobs,
		Logger:       logger,
	})

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: workerConcurrency,
		Queues:      map[string]int{jobs.DefaultQueue: 1},
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	entryID, err := jobs.ScheduleSweep(scheduler, cfg.SweepInterval, sweepPayload(cfg))
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	if err := server.Start(processor.Handler()); err != nil {
		return fmt.Errorf("start task server: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		server.Shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.Info("worker started",
		slog.String("sweep_entry", entryID),
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Duration("sweep_grace", cfg.SweepGrace),
		slog.Bool("dry_run", cfg.SweepDryRun))

	<-ctx.Done()
	logger.Info("shutting down worker...")

	scheduler.Shutdown()
	server.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	logger.Info("worker stopped")
	return nil
}

func redisConnOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	if cfg.RedisURL == "" {
		return nil, errRedisRequired
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return opt, nil
}

func sweepPayload(cfg *config.Config) jobs.SweepPayload {
	return jobs.SweepPayload{
		GraceSeconds: int64(cfg.SweepGrace / time.Second),
		DryRun:       cfg.SweepDryRun,
	}
}
