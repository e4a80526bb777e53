package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/kanban-sync/internal/board"
	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/merge"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/remote"
)

// ResolveMerge settles the pending conflict with a per-field choice.
// Cards are force-written; lists are updated against the server's
// current version. On success the conflict is cleared, its operation
// dequeued, local state refreshed and the queue drained again.
//
// If a list update meets yet another concurrent change, the conflict
// stays pending with the newer server copy and an ErrConflict is
// returned.
func (e *Engine) ResolveMerge(ctx context.Context, res merge.Resolution) error {
	if !e.draining.CompareAndSwap(false, true) {
		return kerrors.ErrSyncBusy
	}

	err := e.resolve(ctx, res)
	if err != nil {
		e.draining.Store(false)
		return err
	}

	if rErr := e.Refresh(ctx); rErr != nil {
		e.logger.Warn("refresh after resolution failed", slog.String("error", rErr.Error()))
	}

	outcome := e.drain(ctx)
	e.draining.Store(false)

	e.logger.Debug("drain after resolution", slog.String("outcome", string(outcome)))

	return nil
}

func (e *Engine) resolve(ctx context.Context, res merge.Resolution) error {
	c := e.store.PendingConflict()
	if c == nil {
		return kerrors.ErrNoConflict
	}

	if !e.Online() {
		return kerrors.ErrOffline
	}

	switch c.Kind {
	case models.KindCard:
		card, err := merge.ResolveCard(c, res)
		if err != nil {
			return err
		}

		if _, err := e.remote.ForceCard(ctx, card); err != nil {
			e.recordError(err)
			return fmt.Errorf("writing resolved card: %w", err)
		}

	case models.KindList:
		patch, err := merge.ResolveListPatch(c, res)
		if err != nil {
			return err
		}

		_, err = e.remote.UpdateList(ctx, c.EntityID, patch, c.Server.List.Version)
		if ce, ok := remote.AsConflict(err); ok {
			if newer, dErr := ce.List(); dErr == nil {
				updated := *c
				updated.Server = merge.Entity{List: &newer}
				e.store.Dispatch(board.MergeRequired{Conflict: &updated})
			}

			return fmt.Errorf("list %s changed again during resolution: %w", c.EntityID, kerrors.ErrConflict)
		}

		if err != nil {
			e.recordError(err)
			return fmt.Errorf("writing resolved list: %w", err)
		}

	default:
		return fmt.Errorf("conflict on unknown entity type %q", c.Kind)
	}

	e.store.Dispatch(board.MergeClear{})
	e.store.Dispatch(board.SyncDequeue{OpID: c.OpID})

	e.logger.Info("conflict resolved",
		slog.String("entity", c.Kind),
		slog.String("id", c.EntityID),
		slog.String("op", c.OpID),
	)

	return nil
}

func (e *Engine) recordError(err error) {
	msg := err.Error()
	e.setStatus(false, &msg, nil)
}
