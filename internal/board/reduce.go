package board

import (
	"math"
	"slices"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/models"
)

// Reduce applies a to s and returns the next state. It is pure: s is not
// modified, and now is the only source of time. Actions that reference
// missing entities, and unknown actions, return s unchanged.
//
// Every entity a transition changes gets Version+1 and
// LastModifiedAt=now. A card's ListID always names the single list whose
// CardIDs contains it.
func Reduce(s State, a Action, now time.Time) State {
	switch a := a.(type) {
	case Hydrate:
		return a.State.normalize()

	case ListAdd:
		return addList(s, a)
	case ListRename:
		return updateList(s, a.ID, now, func(l *models.List) { l.Title = a.Title })
	case ListArchive:
		return updateList(s, a.ID, now, func(l *models.List) { l.Archived = a.Archived })

	case CardAdd:
		return addCard(s, a, now)
	case CardUpdate:
		return updateCard(s, a, now)
	case CardDelete:
		return deleteCard(s, a, now)
	case CardMove:
		return moveCard(s, a, now)

	case UISelectCard:
		if _, ok := s.Cards.ByID[a.ID]; !ok {
			return s
		}

		s.UI.SelectedCardID = a.ID

		return s
	case UICloseModal:
		s.UI.SelectedCardID = ""
		return s
	case UIClearError:
		s.UI.Error = ""
		return s
	case UIForceOffline:
		s.UI.ForceOffline = a.On
		return s

	case SyncEnqueue:
		s.Sync.Queue = s.Sync.Queue.Append(a.Op)
		return s
	case SyncDequeue:
		s.Sync.Queue = s.Sync.Queue.Remove(a.OpID)
		return s
	case SyncAcknowledge:
		return acknowledge(s, a)
	case SyncSetStatus:
		if a.Syncing != nil {
			s.UI.IsSyncing = *a.Syncing
		}

		if a.Error != nil {
			s.UI.Error = *a.Error
		}

		if a.LastSyncAt != nil {
			t := *a.LastSyncAt
			s.Sync.LastSyncAt = &t
		}

		return s
	case SyncApplyServer:
		if a.IfQueueEmpty && s.Sync.Queue.Len() > 0 {
			return s
		}

		snap := a.Snapshot.Clone().Normalize()
		s.Lists, s.Cards = snap.Lists, snap.Cards
		s = dropStaleSelection(s)

		return s

	case MergeRequired:
		s.UI.MergeConflict = a.Conflict
		s.UI.IsSyncing = false

		return s
	case MergeClear:
		s.UI.MergeConflict = nil
		return s

	case UndoPush:
		s.Undo = s.Undo.Push(s.Entities())
		return s
	case Undo:
		snap, h, ok := s.Undo.Undo(s.Entities())
		if !ok {
			return s
		}

		s.Lists, s.Cards, s.Undo = snap.Lists, snap.Cards, h

		return dropStaleSelection(s)
	case Redo:
		snap, h, ok := s.Undo.Redo(s.Entities())
		if !ok {
			return s
		}

		s.Lists, s.Cards, s.Undo = snap.Lists, snap.Cards, h

		return dropStaleSelection(s)

	default:
		return s
	}
}

func addList(s State, a ListAdd) State {
	if a.List.ID == "" {
		return s
	}

	if _, exists := s.Lists.ByID[a.List.ID]; exists {
		return s
	}

	next := s.withEntities()

	l := a.List.Clone()
	if l.CardIDs == nil {
		l.CardIDs = []string{}
	}

	next.Lists.ByID[l.ID] = l
	next.Lists.AllIDs = append(next.Lists.AllIDs, l.ID)

	return next
}

func updateList(s State, id string, now time.Time, fn func(*models.List)) State {
	l, ok := s.Lists.ByID[id]
	if !ok {
		return s
	}

	next := s.withEntities()
	l = l.Clone()
	fn(&l)
	next.Lists.ByID[id] = l.Bump(now)

	return next
}

func addCard(s State, a CardAdd, now time.Time) State {
	c := a.Card
	if c.ID == "" {
		return s
	}

	if _, exists := s.Cards.ByID[c.ID]; exists {
		return s
	}

	if _, ok := s.Lists.ByID[c.ListID]; !ok {
		return s
	}

	next := s.withEntities()

	l := next.Lists.ByID[c.ListID]
	l.CardIDs = append(l.CardIDs, c.ID)
	next.Lists.ByID[l.ID] = l.Bump(now)
	next.Cards.ByID[c.ID] = c.Clone()

	return next
}

func updateCard(s State, a CardUpdate, now time.Time) State {
	c, ok := s.Cards.ByID[a.ID]
	if !ok {
		return s
	}

	next := s.withEntities()
	updated := a.Patch.Apply(c.Clone())

	if updated.ListID != c.ListID {
		if _, ok := next.Lists.ByID[updated.ListID]; ok {
			relocate(next, c.ID, updated.ListID, math.MaxInt, now)
		} else {
			updated.ListID = c.ListID
		}
	}

	next.Cards.ByID[c.ID] = updated.Bump(now)

	return next
}

func deleteCard(s State, a CardDelete, now time.Time) State {
	if _, ok := s.Cards.ByID[a.ID]; !ok {
		return s
	}

	next := s.withEntities()
	bumpLists(next, detach(next, a.ID), now)
	delete(next.Cards.ByID, a.ID)

	if next.UI.SelectedCardID == a.ID {
		next.UI.SelectedCardID = ""
	}

	return next
}

func moveCard(s State, a CardMove, now time.Time) State {
	c, ok := s.Cards.ByID[a.CardID]
	if !ok {
		return s
	}

	if _, ok := s.Lists.ByID[a.ToListID]; !ok {
		return s
	}

	next := s.withEntities()
	relocate(next, c.ID, a.ToListID, a.ToIndex, now)

	c = c.Clone()
	c.ListID = a.ToListID
	next.Cards.ByID[c.ID] = c.Bump(now)

	return next
}

// relocate moves id out of whichever lists hold it and into listID at
// the clamped index. Each touched list is bumped once. Same-list moves
// remove first, so the index refers to the list without the card. Only
// tables already owned by s may be passed.
func relocate(s State, id, listID string, index int, now time.Time) {
	touched := detach(s, id)

	l := s.Lists.ByID[listID]
	l.CardIDs = slices.Insert(l.CardIDs, ClampIndex(index, len(l.CardIDs)), id)
	s.Lists.ByID[listID] = l

	if !slices.Contains(touched, listID) {
		touched = append(touched, listID)
	}

	bumpLists(s, touched, now)
}

// detach removes id from every list that holds it and returns the ids of
// those lists.
func detach(s State, id string) []string {
	var touched []string

	for lid, l := range s.Lists.ByID {
		i := slices.Index(l.CardIDs, id)
		if i < 0 {
			continue
		}

		l.CardIDs = slices.Delete(l.CardIDs, i, i+1)
		s.Lists.ByID[lid] = l
		touched = append(touched, lid)
	}

	return touched
}

func bumpLists(s State, ids []string, now time.Time) {
	for _, id := range ids {
		s.Lists.ByID[id] = s.Lists.ByID[id].Bump(now)
	}
}

// ClampIndex bounds a move destination index to [0, n].
func ClampIndex(index, n int) int {
	return max(0, min(index, n))
}

func acknowledge(s State, a SyncAcknowledge) State {
	s.Sync.Queue = s.Sync.Queue.Rebase(a.OpID, a.Kind, a.ID, a.Delta).Remove(a.OpID)
	if a.Delta == 0 {
		return s
	}

	switch a.Kind {
	case models.KindList:
		if l, ok := s.Lists.ByID[a.ID]; ok {
			next := s.withEntities()
			l.Version += a.Delta
			next.Lists.ByID[a.ID] = l

			return next
		}
	case models.KindCard:
		if c, ok := s.Cards.ByID[a.ID]; ok {
			next := s.withEntities()
			c.Version += a.Delta
			next.Cards.ByID[a.ID] = c

			return next
		}
	}

	return s
}

func dropStaleSelection(s State) State {
	if _, ok := s.Cards.ByID[s.UI.SelectedCardID]; !ok {
		s.UI.SelectedCardID = ""
	}

	return s
}
