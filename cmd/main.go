package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tzockt/speedtest-exporter/pkg/cache"
	"github.com/tzockt/speedtest-exporter/pkg/config"
	"github.com/tzockt/speedtest-exporter/pkg/metrics"
	"github.com/tzockt/speedtest-exporter/pkg/server"
	"github.com/tzockt/speedtest-exporter/pkg/speedtest"
)

const shutdownTimeout = 10 * time.Second

// Set via -ldflags at build time.
var version = "dev"

var (
	debugFlag bool
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "speedtest-exporter",
	Short: "Prometheus exporter for the Ookla Speedtest CLI",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(cmd.Context()); err != nil {
			logger.Error("exporter failed", "error", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the exporter version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger.Info("starting speedtest exporter",
		"version", version,
		"port", cfg.Port,
		"cacheDuration", cfg.CacheDuration,
		"timeout", cfg.Timeout,
		"failureDebounce", cfg.FailureDebounce,
		"serverID", orAuto(cfg.ServerID),
		"binary", cfg.Binary)

	runner := speedtest.NewRunner(cfg.Binary, cfg.ServerID, cfg.Timeout, logger)
	if err := runner.Validate(ctx); err != nil {
		return fmt.Errorf("validating speedtest CLI: %w", err)
	}

	coordinator := cache.New(runner, cfg.CacheDuration, cfg.FailureDebounce, logger)
	srv := server.New(coordinator, metrics.New(), logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func orAuto(serverID string) string {
	if serverID == "" {
		return "auto"
	}
	return serverID
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
