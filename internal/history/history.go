// Package history keeps the bounded undo/redo stacks of board entity
// snapshots. Only list and card data is covered; UI and sync state are
// outside its scope.
package history

import "github.com/alexjbarnes/kanban-sync/internal/models"

// Limit is the maximum depth of both the past and future stacks.
const Limit = 30

// History holds snapshots taken before each mutating action (Past) and
// snapshots displaced by undo (Future). Past is oldest-first; Future is
// nearest-first.
type History struct {
	Past   []models.Snapshot `json:"past"`
	Future []models.Snapshot `json:"future"`
}

// Push records cur as the most recent past snapshot and clears the redo
// stack. The oldest snapshot is evicted beyond Limit.
func (h History) Push(cur models.Snapshot) History {
	past := append(cloneStack(h.Past), cur.Clone())

	return History{Past: trimOldest(past), Future: nil}
}

// Undo pops the most recent past snapshot and returns it as the new
// current state, moving cur onto the redo stack. ok is false and cur is
// returned unchanged when there is nothing to undo.
func (h History) Undo(cur models.Snapshot) (models.Snapshot, History, bool) {
	if len(h.Past) == 0 {
		return cur, h, false
	}

	past := cloneStack(h.Past)
	prev := past[len(past)-1]
	past = past[:len(past)-1]

	future := append([]models.Snapshot{cur.Clone()}, h.Future...)
	if len(future) > Limit {
		future = future[:Limit]
	}

	return prev, History{Past: past, Future: future}, true
}

// Redo is the mirror of Undo.
func (h History) Redo(cur models.Snapshot) (models.Snapshot, History, bool) {
	if len(h.Future) == 0 {
		return cur, h, false
	}

	next := h.Future[0]
	future := cloneStack(h.Future[1:])
	past := trimOldest(append(cloneStack(h.Past), cur.Clone()))

	return next, History{Past: past, Future: future}, true
}

// CanUndo reports whether Undo would change anything.
func (h History) CanUndo() bool { return len(h.Past) > 0 }

// CanRedo reports whether Redo would change anything.
func (h History) CanRedo() bool { return len(h.Future) > 0 }

func trimOldest(s []models.Snapshot) []models.Snapshot {
	if len(s) > Limit {
		return s[len(s)-Limit:]
	}

	return s
}

// cloneStack copies the slice header so appends never alias a stack
// still referenced by an earlier board state. Snapshots themselves are
// immutable once pushed.
func cloneStack(s []models.Snapshot) []models.Snapshot {
	out := make([]models.Snapshot, len(s), len(s)+1)
	copy(out, s)

	return out
}
