// Package main is plantctl, the operator CLI for the SmartPlant pipeline.
// It builds the same stores and services as the API server from the
// environment and an optional YAML file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onnwee/smartplant/internal/app"
	"github.com/onnwee/smartplant/internal/config"
	"github.com/onnwee/smartplant/internal/upload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(&cli{out: os.Stdout, open: openEnv, load: loadConfig})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "plantctl: %v\n", err)
		os.Exit(1)
	}
}

// env is everything a command needs to reach the pipeline.
type env struct {
	cfg      *config.Config
	services *app.Services
	metrics  *app.Metrics
	writer   upload.ObjectWriter
	logger   *slog.Logger
	close    func() error
}

type openFunc func(ctx context.Context, configPath string, verbose bool) (*env, error)

type cli struct {
	out  io.Writer
	open openFunc
	load func(configPath string) (*config.Config, error)

	configPath string
	verbose    bool
}

func newRootCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plantctl",
		Short: "SmartPlant operator CLI",
		Long: `plantctl drives the sighting pipeline directly: submit images, mask or list
sightings, run the orphaned-upload sweep and mint development tokens.

The memory store backend does not persist between invocations; point
STORE_BACKEND at postgres or dynamodb to work with shared data.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to an optional YAML config file")
	cmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log pipeline activity to stderr")
	cmd.AddCommand(
		newSubmitCmd(c),
		newMaskCmd(c),
		newListCmd(c),
		newSweepCmd(c),
		newTokenCmd(c),
	)
	return cmd
}

// withEnv opens the pipeline for the duration of fn.
func (c *cli) withEnv(cmd *cobra.Command, fn func(e *env) error) error {
	e, err := c.open(cmd.Context(), c.configPath, c.verbose)
	if err != nil {
		return err
	}
	defer func() {
		if e.close != nil {
			if err := e.close(); err != nil {
				e.logger.Warn("failed to close stores", "error", err)
			}
		}
	}()
	return fn(e)
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, errs := config.Load(configPath)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func openEnv(ctx context.Context, configPath string, verbose bool) (*env, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	clients, err := app.NewAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	stores, err := app.OpenStores(ctx, cfg, clients, logger)
	if err != nil {
		return nil, err
	}
	metrics := app.NewMetrics()
	services, err := app.NewServices(cfg, stores, clients, nil, metrics, logger)
	if err != nil {
		stores.Close()
		return nil, err
	}
	return &env{
		cfg:      cfg,
		services: services,
		metrics:  metrics,
		writer:   upload.NewTransferer(nil, metrics.Upload, logger),
		logger:   logger,
		close:    stores.Close,
	}, nil
}
