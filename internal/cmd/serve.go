package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/masahif/docharvest/internal/api"
	"github.com/masahif/docharvest/internal/collect"
	"github.com/masahif/docharvest/internal/config"
	"github.com/masahif/docharvest/internal/crawler"
	"github.com/masahif/docharvest/internal/metrics"
)

const shutdownTimeout = 30 * time.Second

var serveBindings = []flagBinding{
	{"server.addr", "addr"},
	{"server.max_tasks", "max-tasks"},
	{"server.request_timeout", "request-timeout"},
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	defaults := config.DefaultConfig()

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the administrative HTTP server",
		Long: `Serve exposes POST /collect/run, GET /collect/stop, GET /collect/tasks,
/healthz and /metrics. On SIGINT/SIGTERM it stops accepting requests, stops
every running task and waits for them to drain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, cmd)
			if err != nil {
				return err
			}
			if show, _ := cmd.Flags().GetBool("show-config"); show {
				return showCurrentConfig(cmd.OutOrStdout(), cfg)
			}
			logCloser, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logCloser.Close() }()

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			listener, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
			}
			return runServer(ctx, cfg, listener)
		},
	}

	f := serve.Flags()
	f.String("addr", defaults.Server.Addr, "Listen address")
	f.Int("max-tasks", defaults.Server.MaxTasks, "Maximum number of concurrently running tasks")
	f.Duration("request-timeout", defaults.Server.RequestTimeout, "Per-request handler timeout")
	bindFlags(v, f, serveBindings)

	return serve
}

// runServer serves the admin API on listener until ctx ends, then shuts the
// server down and drains every task.
func runServer(ctx context.Context, cfg *config.Config, listener net.Listener) error {
	engine, err := crawler.NewEngine(cfg, nil)
	if err != nil {
		_ = listener.Close()
		return err
	}
	metrics.Init()

	manager := collect.NewManager(cfg, engine)
	server := &http.Server{
		Handler:           api.NewServer(manager, cfg.Server).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Admin server listening", "addr", listener.Addr().String(), "max_tasks", cfg.Server.MaxTasks)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	slog.Info("Shutting down", "running_tasks", manager.Running())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("tasks did not drain: %w", err)
	}
	if serveErr != nil {
		return fmt.Errorf("admin server failed: %w", serveErr)
	}
	return nil
}
