package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/board"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
	"github.com/alexjbarnes/kanban-sync/internal/seed"
	"github.com/alexjbarnes/kanban-sync/internal/server"
	"github.com/alexjbarnes/kanban-sync/internal/state"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Replace a board with generated or fixture data",
	Long: `Replace the board in the server database or the client's local state.

Without --fixture, generates --lists lists of --per-list cards each
(600 cards by default) for performance testing. With --fixture, loads a
YAML board:

  lists:
    - title: Todo
      cards:
        - title: Write tests
          tags: [test]

Seeding the client also empties its sync queue.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().String("target", "server", "what to seed: server or client")
	seedCmd.Flags().Int("lists", seed.DefaultLists, "number of generated lists")
	seedCmd.Flags().Int("per-list", seed.DefaultPerList, "number of generated cards per list")
	seedCmd.Flags().String("fixture", "", "YAML board fixture to load instead of generating")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup("seed")
	if err != nil {
		return err
	}

	target, _ := cmd.Flags().GetString("target")
	fixture, _ := cmd.Flags().GetString("fixture")
	lists, _ := cmd.Flags().GetInt("lists")
	perList, _ := cmd.Flags().GetInt("per-list")

	if lists < 0 || perList < 0 {
		return fmt.Errorf("--lists and --per-list must not be negative")
	}

	now := time.Now().UTC()

	var snap models.Snapshot

	if fixture != "" {
		f, err := os.Open(fixture)
		if err != nil {
			return fmt.Errorf("opening fixture: %w", err)
		}
		defer f.Close()

		if snap, err = seed.LoadYAML(f, now, uuid.NewString); err != nil {
			return fmt.Errorf("loading fixture %s: %w", fixture, err)
		}
	} else {
		snap = seed.Generate(lists, perList, now, uuid.NewString)
	}

	switch target {
	case "server":
		err = seedServer(cfg.ServerDB, snap)
	case "client":
		err = seedClient(cfg.DataDir, snap)
	default:
		return fmt.Errorf("unknown --target %q, want server or client", target)
	}

	if err != nil {
		return err
	}

	logger.Info("board seeded",
		slog.String("target", target),
		slog.Int("lists", len(snap.Lists.ByID)),
		slog.Int("cards", len(snap.Cards.ByID)),
	)

	return nil
}

func seedServer(path string, snap models.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating server data directory: %w", err)
	}

	store, err := server.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Import(snap)
}

func seedClient(dataDir string, snap models.Snapshot) error {
	st, err := state.Load(dataDir)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer st.Close()

	b := board.Empty()
	b.Lists = snap.Lists
	b.Cards = snap.Cards

	if err := st.SaveJSON(board.BoardKey, b); err != nil {
		return err
	}

	return st.SaveJSON(board.QueueKey, queue.Queue{})
}
