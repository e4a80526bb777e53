package board

import (
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/merge"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
)

// Action is a state transition understood by Reduce. The set is closed:
// only types in this package implement it.
type Action interface {
	isAction()
}

// Hydrate replaces the whole state, typically with one loaded from disk.
type Hydrate struct{ State State }

// ListAdd appends a new list to the board.
type ListAdd struct{ List models.List }

// ListRename sets a list's title.
type ListRename struct{ ID, Title string }

// ListArchive sets a list's archived flag.
type ListArchive struct {
	ID       string
	Archived bool
}

// CardAdd appends a new card to the end of its list.
type CardAdd struct{ Card models.Card }

// CardUpdate patches a card. A ListID change relocates the card to the
// end of the destination list.
type CardUpdate struct {
	ID    string
	Patch queue.CardPatch
}

// CardDelete removes a card and its list membership.
type CardDelete struct{ ID string }

// CardMove relocates a card to an index in a list. The index is clamped.
type CardMove struct {
	CardID   string
	ToListID string
	ToIndex  int
}

// UISelectCard opens a card for editing.
type UISelectCard struct{ ID string }

// UICloseModal clears the card selection.
type UICloseModal struct{}

// UIClearError dismisses the sync error banner.
type UIClearError struct{}

// UIForceOffline toggles the user's offline override.
type UIForceOffline struct{ On bool }

// SyncEnqueue appends an operation to the sync queue.
type SyncEnqueue struct{ Op queue.Operation }

// SyncDequeue removes an operation from the sync queue by id.
type SyncDequeue struct{ OpID string }

// SyncAcknowledge records that the server accepted a create with a
// different version than the local one. The operation is dequeued, the
// local entity's version shifts by Delta, and later queued operations on
// the same entity are rebased by Delta.
type SyncAcknowledge struct {
	OpID  string
	Kind  string
	ID    string
	Delta int64
}

// SyncSetStatus updates the sync status fields that are non-nil.
type SyncSetStatus struct {
	Syncing    *bool
	Error      *string
	LastSyncAt *time.Time
}

// SyncApplyServer overwrites the list and card tables with the server's
// authoritative snapshot. With IfQueueEmpty set the snapshot is dropped
// when operations are pending, so work queued during a fetch is not
// hidden.
type SyncApplyServer struct {
	Snapshot     models.Snapshot
	IfQueueEmpty bool
}

// MergeRequired surfaces a conflict that needs a decision and stops the
// syncing indicator.
type MergeRequired struct{ Conflict *merge.Conflict }

// MergeClear drops the pending conflict.
type MergeClear struct{}

// UndoPush records the current entities on the undo stack.
type UndoPush struct{}

// Undo restores the previous entities.
type Undo struct{}

// Redo reapplies the most recently undone entities.
type Redo struct{}

func (Hydrate) isAction()         {}
func (ListAdd) isAction()         {}
func (ListRename) isAction()      {}
func (ListArchive) isAction()     {}
func (CardAdd) isAction()         {}
func (CardUpdate) isAction()      {}
func (CardDelete) isAction()      {}
func (CardMove) isAction()        {}
func (UISelectCard) isAction()    {}
func (UICloseModal) isAction()    {}
func (UIClearError) isAction()    {}
func (UIForceOffline) isAction()  {}
func (SyncEnqueue) isAction()     {}
func (SyncDequeue) isAction()     {}
func (SyncAcknowledge) isAction() {}
func (SyncSetStatus) isAction()   {}
func (SyncApplyServer) isAction() {}
func (MergeRequired) isAction()   {}
func (MergeClear) isAction()      {}
func (UndoPush) isAction()        {}
func (Undo) isAction()            {}
func (Redo) isAction()            {}
