// Package queue models the durable log of local mutations awaiting
// replay against the remote store.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/models"
)

// Type is the logical kind of a queued operation.
type Type string

const (
	ListCreate Type = "list.create"
	ListUpdate Type = "list.update"
	CardCreate Type = "card.create"
	CardUpdate Type = "card.update"
	CardDelete Type = "card.delete"
	CardMove   Type = "card.move"
)

// Operation is one replayable local mutation.
type Operation struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Base      Base            `json:"base"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Base is what the mutation believed to be current when it was created:
// the version it was based on and a deep copy of the pre-mutation entity.
// Creates carry no entity.
type Base struct {
	BaseVersion int64        `json:"baseVersion"`
	List        *models.List `json:"list,omitempty"`
	Card        *models.Card `json:"card,omitempty"`
}

// ListPatch holds the mutable list fields. Nil means unchanged.
type ListPatch struct {
	Title    *string `json:"title,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// CardPatch holds the mutable card fields. Nil means unchanged.
type CardPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	ListID      *string   `json:"listId,omitempty"`
}

// Apply returns l with the patch applied.
func (p ListPatch) Apply(l models.List) models.List {
	if p.Title != nil {
		l.Title = *p.Title
	}

	if p.Archived != nil {
		l.Archived = *p.Archived
	}

	return l
}

// Apply returns c with the patch applied.
func (p CardPatch) Apply(c models.Card) models.Card {
	if p.Title != nil {
		c.Title = *p.Title
	}

	if p.Description != nil {
		c.Description = *p.Description
	}

	if p.Tags != nil {
		c.Tags = append([]string{}, (*p.Tags)...)
	}

	if p.ListID != nil {
		c.ListID = *p.ListID
	}

	return c
}

// Payloads, one per operation type.
type (
	ListCreatePayload struct {
		List models.List `json:"list"`
	}

	ListUpdatePayload struct {
		ID          string    `json:"id"`
		Patch       ListPatch `json:"patch"`
		BaseVersion int64     `json:"baseVersion"`
	}

	CardCreatePayload struct {
		Card models.Card `json:"card"`
	}

	CardUpdatePayload struct {
		ID          string    `json:"id"`
		Patch       CardPatch `json:"patch"`
		BaseVersion int64     `json:"baseVersion"`
	}

	CardDeletePayload struct {
		ID          string `json:"id"`
		BaseVersion int64  `json:"baseVersion"`
	}

	CardMovePayload struct {
		CardID          string `json:"cardId"`
		FromListID      string `json:"fromListId"`
		ToListID        string `json:"toListId"`
		ToIndex         int    `json:"toIndex"`
		BaseCardVersion int64  `json:"baseCardVersion"`
	}
)

// New builds an operation, encoding payload as JSON.
func New(id string, typ Type, payload any, base Base, createdAt time.Time) (Operation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("encoding %s payload: %w", typ, err)
	}

	return Operation{
		ID:        id,
		Type:      typ,
		Payload:   data,
		Base:      base,
		CreatedAt: createdAt,
	}, nil
}

// Decode unmarshals the payload of op into T.
func Decode[T any](op Operation) (T, error) {
	var v T
	if err := json.Unmarshal(op.Payload, &v); err != nil {
		return v, fmt.Errorf("decoding %s payload of op %s: %w", op.Type, op.ID, err)
	}

	return v, nil
}

// Target returns the entity kind and id an operation mutates.
func Target(op Operation) (kind, id string, err error) {
	switch op.Type {
	case ListCreate:
		p, err := Decode[ListCreatePayload](op)
		return models.KindList, p.List.ID, err
	case ListUpdate:
		p, err := Decode[ListUpdatePayload](op)
		return models.KindList, p.ID, err
	case CardCreate:
		p, err := Decode[CardCreatePayload](op)
		return models.KindCard, p.Card.ID, err
	case CardUpdate:
		p, err := Decode[CardUpdatePayload](op)
		return models.KindCard, p.ID, err
	case CardDelete:
		p, err := Decode[CardDeletePayload](op)
		return models.KindCard, p.ID, err
	case CardMove:
		p, err := Decode[CardMovePayload](op)
		return models.KindCard, p.CardID, err
	default:
		return "", "", fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// Rebase shifts the version assumptions of op by delta if it targets the
// given entity. Creates are left alone. The returned bool reports whether
// op was changed.
func Rebase(op Operation, kind, id string, delta int64) (Operation, bool) {
	k, target, err := Target(op)
	if err != nil || k != kind || target != id || delta == 0 {
		return op, false
	}

	var payload any

	switch op.Type {
	case ListUpdate:
		p, _ := Decode[ListUpdatePayload](op)
		p.BaseVersion += delta
		payload = p
	case CardUpdate:
		p, _ := Decode[CardUpdatePayload](op)
		p.BaseVersion += delta
		payload = p
	case CardDelete:
		p, _ := Decode[CardDeletePayload](op)
		p.BaseVersion += delta
		payload = p
	case CardMove:
		p, _ := Decode[CardMovePayload](op)
		p.BaseCardVersion += delta
		payload = p
	default:
		return op, false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return op, false
	}

	op.Payload = data
	op.Base.BaseVersion += delta

	if op.Base.List != nil {
		l := op.Base.List.Clone()
		l.Version += delta
		op.Base.List = &l
	}

	if op.Base.Card != nil {
		c := op.Base.Card.Clone()
		c.Version += delta
		op.Base.Card = &c
	}

	return op, true
}
