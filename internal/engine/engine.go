// Package engine replays the local operation queue against the remote
// store, routes version conflicts through the merge resolver and keeps
// the client eventually consistent with the server.
package engine

//go:generate mockgen -source=engine.go -destination=mock_remote_test.go -package=engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/api"
	"github.com/alexjbarnes/kanban-sync/internal/board"
	"github.com/alexjbarnes/kanban-sync/internal/merge"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
)

// DefaultInterval is the period of the background drain and refresh.
const DefaultInterval = 45 * time.Second

// Remote is the authoritative store the queue drains into.
type Remote interface {
	GetState(ctx context.Context) (models.Snapshot, error)
	CreateList(ctx context.Context, l models.List) (models.List, error)
	UpdateList(ctx context.Context, id string, patch queue.ListPatch, baseVersion int64) (models.List, error)
	CreateCard(ctx context.Context, c models.Card) (models.Card, error)
	UpdateCard(ctx context.Context, id string, patch queue.CardPatch, baseVersion int64) (models.Card, error)
	ForceCard(ctx context.Context, c models.Card) (models.Card, error)
	DeleteCard(ctx context.Context, id string) error
	MoveCard(ctx context.Context, req api.MoveRequest) (api.MoveResponse, error)
}

// Connectivity reports whether the platform currently has a network path
// to the remote store.
type Connectivity interface {
	Online() bool
}

// AlwaysOnline is a Connectivity that never reports offline.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }

// Outcome is the result of one Drain call.
type Outcome string

const (
	OutcomeBusy     Outcome = "busy"     // another drain was in flight
	OutcomeOffline  Outcome = "offline"  // forced or platform offline
	OutcomeBlocked  Outcome = "blocked"  // a conflict awaits resolution
	OutcomeIdle     Outcome = "idle"     // nothing queued
	OutcomeSynced   Outcome = "synced"   // queue emptied and state refreshed
	OutcomeConflict Outcome = "conflict" // halted on a conflict needing a decision
	OutcomeFailed   Outcome = "failed"   // transport or server error
)

// Engine drains a board.Store's queue into a Remote.
type Engine struct {
	store    *board.Store
	remote   Remote
	conn     Connectivity
	logger   *slog.Logger
	now      func() time.Time
	interval time.Duration
	online   <-chan struct{}

	// draining guards against overlapping drains and resolutions.
	draining atomic.Bool
	syncNow  chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithInterval sets the background drain period.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithOnlineEvents supplies a channel that fires when connectivity is
// restored.
func WithOnlineEvents(ch <-chan struct{}) Option {
	return func(e *Engine) { e.online = ch }
}

// New returns an engine. A nil conn is treated as always online.
func New(store *board.Store, remote Remote, conn Connectivity, logger *slog.Logger, opts ...Option) *Engine {
	if conn == nil {
		conn = AlwaysOnline{}
	}

	e := &Engine{
		store:    store,
		remote:   remote,
		conn:     conn,
		logger:   logger,
		now:      time.Now,
		interval: DefaultInterval,
		syncNow:  make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Online reports whether the engine may talk to the remote: the user has
// not forced offline and the platform is connected.
func (e *Engine) Online() bool {
	return !e.store.ForceOffline() && e.conn.Online()
}

// SyncNow asks the run loop to drain. It never blocks.
func (e *Engine) SyncNow() {
	select {
	case e.syncNow <- struct{}{}:
	default:
	}
}

// Run drives the engine until ctx is cancelled. Drains started elsewhere
// (the sync_now tool) share the draining guard with this loop.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("sync engine started", slog.Duration("interval", e.interval))

	// Flush anything queued while the process was down.
	e.Drain(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopped")
			return nil
		case <-ticker.C:
			e.Drain(ctx)
			e.tickRefresh(ctx)
		case <-e.online:
			e.logger.Info("connectivity restored, draining queue")
			e.Drain(ctx)
		case <-e.store.Changed():
			e.Drain(ctx)
		case <-e.syncNow:
			e.Drain(ctx)
		}
	}
}

// tickRefresh pulls server state unless offline or a drain is in flight.
// A refresh fetched before a concurrent drain's writes would otherwise
// land after that drain's final apply.
func (e *Engine) tickRefresh(ctx context.Context) bool {
	if !e.Online() || !e.draining.CompareAndSwap(false, true) {
		return false
	}
	defer e.draining.Store(false)

	if err := e.Refresh(ctx); err != nil {
		e.logger.Warn("periodic refresh failed", slog.String("error", err.Error()))
	}

	return true
}

// Status is the observable sync state.
type Status struct {
	IsSyncing    bool            `json:"isSyncing"`
	Error        string          `json:"error,omitempty"`
	LastSyncAt   *time.Time      `json:"lastSyncAt,omitempty"`
	Pending      int             `json:"pending"`
	Conflict     *merge.Conflict `json:"conflict,omitempty"`
	Online       bool            `json:"online"`
	ForceOffline bool            `json:"forceOffline"`
}

// Status returns the current sync status.
func (e *Engine) Status() Status {
	s := e.store.Snapshot()

	return Status{
		IsSyncing:    s.UI.IsSyncing,
		Error:        s.UI.Error,
		LastSyncAt:   s.Sync.LastSyncAt,
		Pending:      s.Sync.Queue.Len(),
		Conflict:     s.UI.MergeConflict,
		Online:       !s.UI.ForceOffline && e.conn.Online(),
		ForceOffline: s.UI.ForceOffline,
	}
}

// Refresh overwrites the local lists and cards with the server's state.
func (e *Engine) Refresh(ctx context.Context) error {
	snap, err := e.remote.GetState(ctx)
	if err != nil {
		return err
	}

	e.store.Dispatch(board.SyncApplyServer{Snapshot: snap})

	return nil
}

func (e *Engine) setStatus(syncing bool, errMsg *string, lastSync *time.Time) {
	e.store.Dispatch(board.SyncSetStatus{Syncing: &syncing, Error: errMsg, LastSyncAt: lastSync})
}
