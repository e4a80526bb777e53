// Package models defines the board entities shared across internal packages.
package models

import (
	"slices"
	"time"
)

// Entity kinds, used by operations and conflict records.
const (
	KindList = "list"
	KindCard = "card"
)

// CreatedVersion is the version the server assigns to a new entity.
// Local creates carry 0 until acknowledged.
const CreatedVersion int64 = 1

// List is a board column. CardIDs is the display order of the cards it
// owns. Archived lists are hidden, never deleted.
type List struct {
	ID             string    `json:"id" yaml:"id"`
	Title          string    `json:"title" yaml:"title"`
	Archived       bool      `json:"archived" yaml:"archived"`
	CardIDs        []string  `json:"cardIds" yaml:"cardIds"`
	Version        int64     `json:"version" yaml:"version"`
	LastModifiedAt time.Time `json:"lastModifiedAt" yaml:"lastModifiedAt"`
}

// Card is a single task. ListID must agree with the owning list's CardIDs
// after every committed transition.
type Card struct {
	ID             string    `json:"id" yaml:"id"`
	ListID         string    `json:"listId" yaml:"listId"`
	Title          string    `json:"title" yaml:"title"`
	Description    string    `json:"description" yaml:"description"`
	Tags           []string  `json:"tags" yaml:"tags"`
	Version        int64     `json:"version" yaml:"version"`
	LastModifiedAt time.Time `json:"lastModifiedAt" yaml:"lastModifiedAt"`
}

// Clone returns a deep copy of the list.
func (l List) Clone() List {
	l.CardIDs = cloneStrings(l.CardIDs)
	return l
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	c.Tags = cloneStrings(c.Tags)
	return c
}

// Bump returns the list with its version incremented and its
// modification time set to now.
func (l List) Bump(now time.Time) List {
	l.Version++
	l.LastModifiedAt = now

	return l
}

// Bump returns the card with its version incremented and its
// modification time set to now.
func (c Card) Bump(now time.Time) Card {
	c.Version++
	c.LastModifiedAt = now

	return c
}

// ListTable is the normalized list store. AllIDs holds board order.
type ListTable struct {
	ByID   map[string]List `json:"byId"`
	AllIDs []string        `json:"allIds"`
}

// CardTable is the normalized card store.
type CardTable struct {
	ByID map[string]Card `json:"byId"`
}

// NewListTable returns an empty, initialized list table.
func NewListTable() ListTable {
	return ListTable{ByID: make(map[string]List), AllIDs: []string{}}
}

// NewCardTable returns an empty, initialized card table.
func NewCardTable() CardTable {
	return CardTable{ByID: make(map[string]Card)}
}

// Clone returns a deep copy of the table.
func (t ListTable) Clone() ListTable {
	out := ListTable{
		ByID:   make(map[string]List, len(t.ByID)),
		AllIDs: cloneStrings(t.AllIDs),
	}
	if out.AllIDs == nil {
		out.AllIDs = []string{}
	}

	for id, l := range t.ByID {
		out.ByID[id] = l.Clone()
	}

	return out
}

// Clone returns a deep copy of the table.
func (t CardTable) Clone() CardTable {
	out := CardTable{ByID: make(map[string]Card, len(t.ByID))}
	for id, c := range t.ByID {
		out.ByID[id] = c.Clone()
	}

	return out
}

// Ordered returns lists in board order, skipping ids with no entry.
func (t ListTable) Ordered() []List {
	out := make([]List, 0, len(t.AllIDs))
	for _, id := range t.AllIDs {
		if l, ok := t.ByID[id]; ok {
			out = append(out, l)
		}
	}

	return out
}

// Snapshot is the entity data of a board: what undo/redo captures and
// what the server returns as its authoritative state.
type Snapshot struct {
	Lists ListTable `json:"lists"`
	Cards CardTable `json:"cards"`
}

// NewSnapshot returns an empty snapshot with initialized tables.
func NewSnapshot() Snapshot {
	return Snapshot{Lists: NewListTable(), Cards: NewCardTable()}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Lists: s.Lists.Clone(), Cards: s.Cards.Clone()}
}

// Normalize fills nil maps and slices so a decoded snapshot is safe to
// mutate. Lists with nil CardIDs are rewritten in place, so callers pass
// a snapshot they own.
func (s Snapshot) Normalize() Snapshot {
	if s.Lists.ByID == nil {
		s.Lists.ByID = make(map[string]List)
	}

	if s.Lists.AllIDs == nil {
		s.Lists.AllIDs = []string{}
	}

	if s.Cards.ByID == nil {
		s.Cards.ByID = make(map[string]Card)
	}

	for id, l := range s.Lists.ByID {
		if l.CardIDs == nil {
			l.CardIDs = []string{}
			s.Lists.ByID[id] = l
		}
	}

	return s
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}

	return slices.Clone(in)
}
