package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/kanban-sync/internal/board"
	"github.com/alexjbarnes/kanban-sync/internal/connectivity"
	"github.com/alexjbarnes/kanban-sync/internal/engine"
	"github.com/alexjbarnes/kanban-sync/internal/mcpserver"
	"github.com/alexjbarnes/kanban-sync/internal/remote"
	"github.com/alexjbarnes/kanban-sync/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the offline-first board client",
	Long: `Run the board client: local durable state, the sync engine, a
connectivity monitor and the MCP tool endpoint.

Edits apply locally first and are queued for the server. Create a file
named OFFLINE in the data directory to force offline mode; remove it to
reconnect and drain the queue.`,
	RunE: runClient,
}

func init() {
	clientCmd.Flags().String("server", "", "server URL (overrides KANBAN_SERVER_URL)")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup("client")
	if err != nil {
		return err
	}

	if u, _ := cmd.Flags().GetString("server"); u != "" {
		cfg.ServerURL = u
	}

	appState, err := state.Load(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	store := board.Load(appState, logger)
	snap := store.Snapshot()

	logger.Info("kanban client starting",
		slog.String("version", Version),
		slog.String("server", cfg.ServerURL),
		slog.String("data_dir", cfg.DataDir),
		slog.Int("lists", len(snap.Lists.ByID)),
		slog.Int("cards", len(snap.Cards.ByID)),
		slog.Int("queued", snap.Sync.Queue.Len()),
	)

	monitor, err := connectivity.NewMonitor(cfg.ServerURL, logger.With(slog.String("component", "connectivity")),
		connectivity.WithHeartbeat(cfg.HeartbeatInterval),
	)
	if err != nil {
		return err
	}

	eng := engine.New(store, remote.NewClient(cfg.ServerURL, nil), monitor, logger.With(slog.String("component", "engine")),
		engine.WithInterval(cfg.SyncInterval),
		engine.WithOnlineEvents(monitor.Events()),
	)

	flag := connectivity.NewFlagWatcher(cfg.DataDir, store, eng.SyncNow, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return flag.Run(gctx) })
	g.Go(func() error { return runMCP(gctx, cfg.MCPListenAddr, store, eng, logger) })

	return g.Wait()
}

// runMCP serves the board tools over streamable HTTP at /mcp.
func runMCP(ctx context.Context, addr string, store *board.Store, eng *engine.Engine, logger *slog.Logger) error {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "kanban-sync", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, store, eng)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)

	logger.Info("starting MCP server", slog.String("listen", addr))

	return serve(ctx, &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
		IdleTimeout:  httpIdleTimeout,
	}, logger)
}
