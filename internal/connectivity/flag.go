package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// OfflineFlag is the file whose presence in the data directory forces
// the client offline.
const OfflineFlag = "OFFLINE"

// Toggler receives forced-offline changes.
type Toggler interface {
	SetForceOffline(on bool)
}

// FlagWatcher mirrors the presence of the OFFLINE file into a Toggler.
// Removing the file calls onClear so queued work can drain right away.
type FlagWatcher struct {
	dir     string
	target  Toggler
	onClear func()
	logger  *slog.Logger
}

func NewFlagWatcher(dir string, target Toggler, onClear func(), logger *slog.Logger) *FlagWatcher {
	if onClear == nil {
		onClear = func() {}
	}

	return &FlagWatcher{dir: dir, target: target, onClear: onClear, logger: logger}
}

func (w *FlagWatcher) path() string { return filepath.Join(w.dir, OfflineFlag) }

// Sync applies the flag's current presence.
func (w *FlagWatcher) Sync() bool {
	_, err := os.Stat(w.path())
	on := err == nil

	w.target.SetForceOffline(on)

	return on
}

// Run watches the data directory until ctx is cancelled.
func (w *FlagWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	on := w.Sync()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("fsnotify events channel closed")
			}

			if filepath.Base(event.Name) != OfflineFlag {
				continue
			}

			now := w.Sync()
			if now == on {
				continue
			}

			on = now
			w.logger.Info("offline flag changed", slog.Bool("force_offline", on))

			if !on {
				w.onClear()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("fsnotify errors channel closed")
			}

			w.logger.Warn("offline flag watcher error", slog.String("error", err.Error()))
		}
	}
}
