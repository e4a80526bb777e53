// Package board holds the client's application state: the normalized
// board, UI flags, the sync queue and undo history, the actions that
// change them, and the Store that owns a live copy.
package board

import (
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/history"
	"github.com/alexjbarnes/kanban-sync/internal/merge"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
)

// Storage keys of the two independently persisted blobs.
const (
	BoardKey = "kanban_board_state_v1"
	QueueKey = "kanban_sync_queue_v1"
)

// UI is the user-facing status. IsSyncing is transient and never
// persisted.
type UI struct {
	SelectedCardID string          `json:"selectedCardId,omitempty"`
	MergeConflict  *merge.Conflict `json:"mergeConflict,omitempty"`
	Error          string          `json:"error,omitempty"`
	IsSyncing      bool            `json:"-"`
	ForceOffline   bool            `json:"forceOffline"`
}

// Sync tracks replication progress. The queue is persisted under its own
// key, not inside the board blob.
type Sync struct {
	Queue      queue.Queue `json:"-"`
	LastSyncAt *time.Time  `json:"lastSyncAt,omitempty"`
}

// State is the complete client state. Values are treated as immutable:
// Reduce always returns a new State and never writes through the maps or
// slices of its input.
type State struct {
	Lists models.ListTable `json:"lists"`
	Cards models.CardTable `json:"cards"`
	UI    UI               `json:"ui"`
	Sync  Sync             `json:"sync"`
	Undo  history.History  `json:"undo"`
}

// Empty returns the default state of a fresh client.
func Empty() State {
	return State{
		Lists: models.NewListTable(),
		Cards: models.NewCardTable(),
	}
}

// Entities returns the list and card tables as a snapshot sharing the
// state's storage.
func (s State) Entities() models.Snapshot {
	return models.Snapshot{Lists: s.Lists, Cards: s.Cards}
}

// Clone returns a deep copy safe to hand to code outside the store.
func (s State) Clone() State {
	out := s
	out.Lists = s.Lists.Clone()
	out.Cards = s.Cards.Clone()
	out.Sync.Queue = queue.Queue(s.Sync.Queue.Items())

	if s.UI.MergeConflict != nil {
		c := *s.UI.MergeConflict
		out.UI.MergeConflict = &c
	}

	if s.Sync.LastSyncAt != nil {
		t := *s.Sync.LastSyncAt
		out.Sync.LastSyncAt = &t
	}

	return out
}

// withEntities returns s with private copies of the list and card tables,
// ready to be modified.
func (s State) withEntities() State {
	s.Lists = s.Lists.Clone()
	s.Cards = s.Cards.Clone()

	return s
}

// normalize repairs a decoded state so it is safe to reduce.
func (s State) normalize() State {
	snap := s.Entities().Normalize()
	s.Lists, s.Cards = snap.Lists, snap.Cards
	s.UI.IsSyncing = false

	return s
}
