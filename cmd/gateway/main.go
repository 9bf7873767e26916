package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chat-observability/internal/config"
	"chat-observability/internal/logging"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "gateway",
	Short:         "Instrumented reverse proxy for the chat backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&cfgFile, "config", "c", "", "path to a YAML config file")
	f.String("listen-addr", ":8080", "HTTP listen address")
	f.String("downstream-url", "http://localhost:8081", "chat backend base URL")
	f.String("redis-addr", "", "Redis address for presence; in-memory when empty")
	f.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	f.String("log-format", "json", "log format (json, console)")
	f.String("log-file", "", "daily rotated log file; stdout when empty")
	f.Duration("slow-request-threshold", 0, "latency above which requests are logged as slow")
	f.Bool("runtime-metrics", true, "expose Go runtime and process metrics")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
		Service: "gateway",
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	gw, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	go gw.presence.Run(ctx, cfg.PresenceRefresh)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: gw.handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("listening %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server exited")
	return nil
}
