package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	httpReadTimeout     = 30 * time.Second
	httpWriteTimeout    = 60 * time.Second
	httpIdleTimeout     = 120 * time.Second
	httpShutdownTimeout = 10 * time.Second
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the reference sync server",
	Long: `Run the authoritative board store over HTTP.

Every write is checked against the entity's current version and rejected
with 409 and the server's copy when stale. Latency and failures can be
injected at runtime through /api/server-controls.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().String("addr", "", "listen address (overrides KANBAN_LISTEN_ADDR)")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup("server")
	if err != nil {
		return err
	}

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.ListenAddr = addr
	}

	if err := os.MkdirAll(filepath.Dir(cfg.ServerDB), 0o700); err != nil {
		return fmt.Errorf("creating server data directory: %w", err)
	}

	store, err := server.OpenStore(cfg.ServerDB)
	if err != nil {
		return err
	}
	defer store.Close()

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.New(store, logger).Handler(cfg.AllowedOrigins),
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
		IdleTimeout:  httpIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("kanban server starting",
		slog.String("version", Version),
		slog.String("listen", cfg.ListenAddr),
		slog.String("db", cfg.ServerDB),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(gctx, httpServer, logger) })

	return g.Wait()
}

// serve runs an HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		logger.Info("shutting down http server", slog.String("addr", srv.Addr))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server on %s: %w", srv.Addr, err)
	}

	return nil
}
