// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/smartplant/internal/api"
	"github.com/onnwee/smartplant/internal/app"
	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/config"
	"github.com/onnwee/smartplant/internal/health"
	"github.com/onnwee/smartplant/internal/idempotency"
	"github.com/onnwee/smartplant/internal/middleware"
	"github.com/onnwee/smartplant/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("SmartPlant API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	logger := middleware.NewLogger(envOrDefault(cfg))
	slog.SetDefault(logger)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(cfg *config.Config) string {
	if cfg == nil || cfg.Env == "" {
		return "development"
	}
	return cfg.Env
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	tp, err := tracing.NewProvider(tracing.FromConfig(cfg, tracing.ServiceAPI))
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

	rdb, err := app.NewRedis(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := app.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	services, err := app.NewServices(cfg, stores, clients, nil, metrics, logger)
	if err != nil {
		return err
	}

	checkers := map[string]api.HealthChecker{
		"bucket":   health.NewBucketChecker(clients.S3, cfg.S3Bucket),
		"identify": health.NewIdentifyChecker(cfg.IdentifyURL),
	}
	if stores.DB != nil {
		checkers["database"] = health.NewDBChecker(stores.DB)
	}
	if stores.Dynamo != nil {
		checkers["dynamodb"] = health.NewDynamoChecker(stores.Dynamo, cfg.DynamoTable, cfg.DynamoKeyTable)
	}
	if rdb != nil {
		checkers["redis"] = health.NewRedisChecker(rdb)
	}

	jwt := auth.NewJWTService(cfg.JWTSecret)
	if cfg.JWTPreviousSecret != "" {
		jwt = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	}

	handler := newHandler(handlerDeps{
		cfg:      cfg,
		logger:   logger,
		services: services,
		metrics:  metrics,
		registry: reg,
		checkers: checkers,
		redis:    rdb,
		tokens:   jwt,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "store", stores.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

type handlerDeps struct {
	cfg      *config.Config
	logger   *slog.Logger
	services *app.Services
	metrics  *app.Metrics
	registry *prometheus.Registry
	checkers map[string]api.HealthChecker
	redis    *redis.Client
	tokens   middleware.TokenValidator
}

// newHandler builds the router and wraps it in the middleware chain:
// RequestID, Tracing, Logging, HTTPMetrics, CORS, Auth, RateLimiter.
func newHandler(d handlerDeps) http.Handler {
	var limits middleware.RateLimitStore
	var idem idempotency.Repository
	if d.redis != nil {
		limits = middleware.NewRedisRateLimitStore(d.redis,
			middleware.WithStoreMetrics(d.metrics.HTTP),
			middleware.WithStoreLogger(d.logger))
		idem = idempotency.NewRedisRepository(d.redis, idempotency.DefaultExpiry)
	} else {
		limits = middleware.NewInMemoryRateLimitStore()
		idem = idempotency.NewInMemoryRepository(idempotency.DefaultExpiry)
	}

	s := d.services
	mux := api.NewRouter(api.RouterConfig{
		Plants: api.NewPlantHandlers(api.PlantHandlersConfig{
			Tickets:  s.Tickets,
			Submit:   s.Identify,
			Engine:   s.Engine,
			History:  s.History,
			Heatmaps: s.Heatmaps,
			Logger:   d.logger,
		}),
		Curation:         api.NewCurationHandlers(s.Queue, s.Feedback, d.logger),
		Health:           api.NewHealthHandlers(api.HealthHandlersConfig{Checkers: d.checkers, MetricsEnabled: true}),
		Metrics:          promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}),
		RateLimitStore:   limits,
		IdentifyLimit:    perMinute(d.cfg.RateLimitIdentify),
		PresignLimit:     perMinute(d.cfg.RateLimitPresign),
		RateLimitMetrics: d.metrics.HTTP,
		Idempotency:      idem,
	})

	var h http.Handler = mux
	h = middleware.RateLimiter(limits, perMinute(d.cfg.RateLimitGlobal), middleware.UserKeyFunc(), d.metrics.HTTP)(h)
	h = middleware.Auth(d.tokens)(h)
	h = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: d.cfg.CORSAllowedOrigins,
		MaxAge:         3600,
		Metrics:        d.metrics.HTTP,
	})(h)
	h = middleware.HTTPMetrics(d.metrics.HTTP)(h)
	h = middleware.Logging(d.logger)(h)
	h = middleware.Tracing(tracing.ServiceAPI)(h)
	return middleware.RequestID(h)
}

func perMinute(n int) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute}
}
