package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/kanban-sync/internal/board"
	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/merge"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
	"github.com/alexjbarnes/kanban-sync/internal/remote"
)

// Drain replays queued operations in order until the queue is empty, a
// conflict needs a decision, or a request fails. Errors never escape:
// they are recorded in the store's sync status.
func (e *Engine) Drain(ctx context.Context) Outcome {
	if !e.draining.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	defer e.draining.Store(false)

	return e.drain(ctx)
}

// drain is Drain without the reentrancy guard. Callers hold draining.
func (e *Engine) drain(ctx context.Context) Outcome {
	if !e.Online() {
		return OutcomeOffline
	}

	if e.store.PendingConflict() != nil {
		return OutcomeBlocked
	}

	if e.store.Queue().Len() == 0 {
		return OutcomeIdle
	}

	e.setStatus(true, nil, nil)

	replayed := 0

	for {
		op, ok := e.store.Queue().Head()
		if !ok {
			break
		}

		// An in-flight call is never cancelled, but going offline stops
		// the next one.
		if !e.Online() {
			e.setStatus(false, nil, nil)
			return OutcomeOffline
		}

		err := e.replay(ctx, op)
		if err == nil {
			replayed++
			continue
		}

		if ce, ok := remote.AsConflict(err); ok {
			manual, mErr := e.handleConflict(ctx, op, ce)
			if mErr != nil {
				return e.fail(ctx, mErr)
			}

			if manual {
				e.logger.Info("sync halted on conflict",
					slog.String("op", op.ID),
					slog.String("entity", ce.EntityType),
					slog.String("id", ce.ID),
				)

				return OutcomeConflict
			}

			replayed++

			continue
		}

		return e.fail(ctx, err)
	}

	snap, err := e.remote.GetState(ctx)
	if err != nil {
		return e.fail(ctx, err)
	}

	e.store.Dispatch(board.SyncApplyServer{Snapshot: snap, IfQueueEmpty: true})

	now := e.now()
	none := ""
	e.setStatus(false, &none, &now)

	e.logger.Info("sync complete", slog.Int("replayed", replayed))

	return OutcomeSynced
}

// fail aborts a drain: best-effort refresh from the server, then record
// the error. The queue is kept for the next attempt.
func (e *Engine) fail(ctx context.Context, err error) Outcome {
	if rErr := e.Refresh(ctx); rErr != nil {
		e.logger.Debug("refresh after failed sync also failed", slog.String("error", rErr.Error()))
	}

	msg := err.Error()
	e.setStatus(false, &msg, nil)

	e.logger.Warn("sync failed",
		slog.String("error", msg),
		slog.Bool("transient", remote.IsTransient(err)),
	)

	return OutcomeFailed
}

// replay sends one operation and records its success in the store.
// A 404 means the entity is gone on the server; the operation is
// dropped, as a local action on a missing entity would be.
func (e *Engine) replay(ctx context.Context, op queue.Operation) error {
	err := e.send(ctx, op)

	var decErr *decodeError

	switch {
	case err == nil:
		return nil
	case errors.As(err, &decErr):
		e.logger.Error("dropping undecodable operation",
			slog.String("op", op.ID),
			slog.String("type", string(op.Type)),
			slog.String("error", err.Error()),
		)
	case errors.Is(err, kerrors.ErrNotFound):
		e.logger.Warn("dropping operation on missing entity",
			slog.String("op", op.ID),
			slog.String("type", string(op.Type)),
			slog.String("error", err.Error()),
		)
	default:
		return err
	}

	e.store.Dispatch(board.SyncDequeue{OpID: op.ID})

	return nil
}

type decodeError struct{ err error }

func (d *decodeError) Error() string { return d.err.Error() }
func (d *decodeError) Unwrap() error { return d.err }

func decode[T any](op queue.Operation) (T, error) {
	v, err := queue.Decode[T](op)
	if err != nil {
		return v, &decodeError{err: err}
	}

	return v, nil
}

func (e *Engine) send(ctx context.Context, op queue.Operation) error {
	switch op.Type {
	case queue.ListCreate:
		p, err := decode[queue.ListCreatePayload](op)
		if err != nil {
			return err
		}

		if _, err := e.remote.CreateList(ctx, p.List); err != nil {
			return err
		}

		e.store.Dispatch(board.SyncAcknowledge{OpID: op.ID, Kind: models.KindList, ID: p.List.ID, Delta: createdDelta(p.List.Version)})

		return nil

	case queue.ListUpdate:
		p, err := decode[queue.ListUpdatePayload](op)
		if err != nil {
			return err
		}

		if _, err := e.remote.UpdateList(ctx, p.ID, p.Patch, p.BaseVersion); err != nil {
			return err
		}

	case queue.CardCreate:
		p, err := decode[queue.CardCreatePayload](op)
		if err != nil {
			return err
		}

		if _, err := e.remote.CreateCard(ctx, p.Card); err != nil {
			return err
		}

		e.store.Dispatch(board.SyncAcknowledge{OpID: op.ID, Kind: models.KindCard, ID: p.Card.ID, Delta: createdDelta(p.Card.Version)})

		return nil

	case queue.CardUpdate:
		p, err := decode[queue.CardUpdatePayload](op)
		if err != nil {
			return err
		}

		if _, err := e.remote.UpdateCard(ctx, p.ID, p.Patch, p.BaseVersion); err != nil {
			return err
		}

	case queue.CardDelete:
		p, err := decode[queue.CardDeletePayload](op)
		if err != nil {
			return err
		}

		if err := e.remote.DeleteCard(ctx, p.ID); err != nil {
			return err
		}

	case queue.CardMove:
		p, err := decode[queue.CardMovePayload](op)
		if err != nil {
			return err
		}

		if _, err := e.remote.MoveCard(ctx, p); err != nil {
			return err
		}

	default:
		return &decodeError{err: fmt.Errorf("unknown operation type %q", op.Type)}
	}

	e.store.Dispatch(board.SyncDequeue{OpID: op.ID})

	return nil
}

// createdDelta is the version shift of an acknowledged create. A replayed
// create may return an entity other writers have since edited; rebasing
// by its version would hide those edits from later ops, so the shift
// always assumes a fresh create and later ops conflict normally.
func createdDelta(local int64) int64 {
	return models.CreatedVersion - local
}

// handleConflict runs the merge resolver for a rejected operation. It
// reports manual=true when the drain must halt for a decision.
func (e *Engine) handleConflict(ctx context.Context, op queue.Operation, ce *remote.ConflictError) (manual bool, err error) {
	kind, id, err := queue.Target(op)
	if err != nil {
		return false, err
	}

	if ce.EntityType != "" {
		kind = ce.EntityType
	}

	switch kind {
	case models.KindCard:
		server, err := ce.Card()
		if err != nil {
			return false, err
		}

		local, ok := e.store.CardByID(id)
		if !ok {
			// Deleted locally since the op was queued; the server copy
			// stands and the next refresh brings it back.
			e.store.Dispatch(board.SyncDequeue{OpID: op.ID})
			return false, nil
		}

		merged, conflict := merge.Card(op.ID, op.Base.Card, local, server)
		if conflict != nil {
			e.store.Dispatch(board.MergeRequired{Conflict: conflict})
			return true, nil
		}

		// Unversioned: a third writer landing after the 409 is overwritten.
		if _, err := e.remote.ForceCard(ctx, merged); err != nil {
			return false, err
		}

		e.logger.Info("auto-merged card conflict", slog.String("op", op.ID), slog.String("card", id))
		e.store.Dispatch(board.SyncDequeue{OpID: op.ID})

		return false, nil

	case models.KindList:
		server, err := ce.List()
		if err != nil {
			return false, err
		}

		local, ok := e.store.ListByID(id)
		if !ok {
			local = server
		}

		e.store.Dispatch(board.MergeRequired{Conflict: merge.List(op.ID, op.Base.List, local, server)})

		return true, nil

	default:
		return false, fmt.Errorf("conflict on unknown entity type %q: %w", kind, kerrors.ErrAPIResponse)
	}
}
