package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingmill/pingmill"
	"github.com/pingmill/pingmill/config"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// runCmd starts the pingmill probe engine.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the probe engine",
	Long: `Start the pingmill probe engine.

The engine will:
  - Load configuration from the specified YAML file
  - Fire all configured probes on their intervals
  - Serve the status API on the configured port, if one is set

The engine runs until interrupted (Ctrl+C) or receives SIGTERM, then shuts
down gracefully: in-flight firings finish and their outcomes are delivered.

Example:
  pingmill run -c config.yaml
  pingmill run --config /etc/pingmill/config.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"probes", len(cfg.Probes),
		"fleets", len(cfg.Fleets),
	)

	// convert config to SDK probes
	probes, err := config.BuildProbes(cfg)
	if err != nil {
		return fmt.Errorf("failed to build probes: %w", err)
	}

	if len(probes) == 0 {
		return fmt.Errorf("no probes configured")
	}

	logger.Info("starting engine",
		"probe_count", len(probes),
		"max_concurrency", cfg.MaxConcurrency,
		"interval", cfg.Interval.Duration().String(),
	)

	// create engine with options
	opts := []pingmill.Option{
		pingmill.WithProbes(probes...),
		pingmill.WithMaxConcurrency(cfg.MaxConcurrency),
		pingmill.WithLogger(logger),
	}
	if cfg.Port != 0 {
		opts = append(opts, pingmill.WithStatusServer(cfg.Port))
	}
	if cfg.DispatchQueue != 0 {
		opts = append(opts, pingmill.WithDispatchQueueSize(cfg.DispatchQueue))
	}

	engine, err := pingmill.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run engine - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- engine.Run(ctx)
	}()

	// wait for engine to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("engine error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("engine error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			engine.Shutdown(false)
			return nil
		}
	}
}
