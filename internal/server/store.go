package server

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
	bolt "go.etcd.io/bbolt"
)

const (
	storeDirPerm     = fs.FileMode(0o700)
	storeFilePerm    = fs.FileMode(0o600)
	storeOpenTimeout = 5 * time.Second
)

var (
	listsBucket = []byte("lists")
	cardsBucket = []byte("cards")
	metaBucket  = []byte("meta")
	orderKey    = []byte("list_order")
)

// ConflictError rejects a write whose base version is older than the
// stored entity. Entity is the stored list or card.
type ConflictError struct {
	EntityType string
	ID         string
	Entity     any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s changed on the server", e.EntityType, e.ID)
}

func (e *ConflictError) Unwrap() error { return kerrors.ErrConflict }

// Store is the authoritative board. Every write is a single bolt
// transaction and bumps the version of each entity it changes.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenStore opens or creates the board database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening store db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{listsBucket, cardsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store db: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// txn is a view over one bolt transaction.
type txn struct {
	tx  *bolt.Tx
	now time.Time
}

func (s *Store) update(fn func(t *txn) error) error {
	now := s.now().UTC()

	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&txn{tx: tx, now: now})
	})
}

func getJSON[T any](b *bolt.Bucket, id string) (T, bool, error) {
	var v T

	data := b.Get([]byte(id))
	if data == nil {
		return v, false, nil
	}

	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decoding %s: %w", id, err)
	}

	return v, true, nil
}

func putJSON(b *bolt.Bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", id, err)
	}

	return b.Put([]byte(id), data)
}

func (t *txn) list(id string) (models.List, bool, error) {
	return getJSON[models.List](t.tx.Bucket(listsBucket), id)
}

func (t *txn) card(id string) (models.Card, bool, error) {
	return getJSON[models.Card](t.tx.Bucket(cardsBucket), id)
}

func (t *txn) putList(l models.List) error {
	if l.CardIDs == nil {
		l.CardIDs = []string{}
	}

	return putJSON(t.tx.Bucket(listsBucket), l.ID, l)
}

func (t *txn) putCard(c models.Card) error {
	if c.Tags == nil {
		c.Tags = []string{}
	}

	return putJSON(t.tx.Bucket(cardsBucket), c.ID, c)
}

func (t *txn) order() ([]string, error) {
	var ids []string

	data := t.tx.Bucket(metaBucket).Get(orderKey)
	if data == nil {
		return []string{}, nil
	}

	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decoding list order: %w", err)
	}

	return ids, nil
}

func (t *txn) setOrder(ids []string) error {
	return putJSON(t.tx.Bucket(metaBucket), string(orderKey), ids)
}

// detach removes cardID from every list holding it. The changed lists
// are returned unsaved and unbumped.
func (t *txn) detach(cardID string) ([]models.List, error) {
	var changed []models.List

	err := t.tx.Bucket(listsBucket).ForEach(func(k, v []byte) error {
		var l models.List
		if err := json.Unmarshal(v, &l); err != nil {
			return fmt.Errorf("decoding list %s: %w", k, err)
		}

		i := slices.Index(l.CardIDs, cardID)
		if i < 0 {
			return nil
		}

		l.CardIDs = slices.Delete(l.CardIDs, i, i+1)
		changed = append(changed, l)

		return nil
	})

	return changed, err
}

// relocate moves cardID into list toID at the clamped index. Every list
// touched is bumped once and saved. from is the list the card left, or
// the destination when it was in no list.
func (t *txn) relocate(cardID, toID string, index int) (from, to models.List, err error) {
	detached, err := t.detach(cardID)
	if err != nil {
		return from, to, err
	}

	to, ok, err := t.list(toID)
	if err != nil {
		return from, to, err
	}

	if !ok {
		return from, to, notFound(models.KindList, toID)
	}

	for _, l := range detached {
		if l.ID == toID {
			to = l
		}
	}

	index = max(0, min(index, len(to.CardIDs)))
	to.CardIDs = slices.Insert(to.CardIDs, index, cardID)
	to = to.Bump(t.now)

	if err := t.putList(to); err != nil {
		return from, to, err
	}

	from = to

	for _, l := range detached {
		if l.ID == toID {
			continue
		}

		from = l.Bump(t.now)
		if err := t.putList(from); err != nil {
			return from, to, err
		}
	}

	return from, to, nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, kerrors.ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", kerrors.ErrValidation, fmt.Sprintf(format, args...))
}

// State returns the whole board.
func (s *Store) State() (models.Snapshot, error) {
	snap := models.NewSnapshot()

	err := s.db.View(func(tx *bolt.Tx) error {
		t := &txn{tx: tx}

		order, err := t.order()
		if err != nil {
			return err
		}

		snap.Lists.AllIDs = order

		err = tx.Bucket(listsBucket).ForEach(func(k, v []byte) error {
			var l models.List
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("decoding list %s: %w", k, err)
			}

			snap.Lists.ByID[l.ID] = l

			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket(cardsBucket).ForEach(func(k, v []byte) error {
			var c models.Card
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decoding card %s: %w", k, err)
			}

			snap.Cards.ByID[c.ID] = c

			return nil
		})
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("reading state: %w", err)
	}

	return snap.Normalize(), nil
}

// CreateList stores a new list at version 1. Creating an id that already
// exists returns the stored list unchanged, so a replayed create is
// harmless.
func (s *Store) CreateList(in models.List) (models.List, error) {
	if in.ID == "" {
		return models.List{}, invalid("list id is required")
	}

	var out models.List

	err := s.update(func(t *txn) error {
		existing, ok, err := t.list(in.ID)
		if err != nil {
			return err
		}

		if ok {
			out = existing
			return nil
		}

		out = models.List{
			ID:             in.ID,
			Title:          in.Title,
			Archived:       false,
			CardIDs:        in.CardIDs,
			Version:        models.CreatedVersion,
			LastModifiedAt: t.now,
		}
		if out.CardIDs == nil {
			out.CardIDs = []string{}
		}

		order, err := t.order()
		if err != nil {
			return err
		}

		if err := t.setOrder(append(order, out.ID)); err != nil {
			return err
		}

		return t.putList(out)
	})

	return out, err
}

// UpdateList patches a list whose version is not newer than baseVersion.
func (s *Store) UpdateList(id string, patch queue.ListPatch, baseVersion int64) (models.List, error) {
	var out models.List

	err := s.update(func(t *txn) error {
		l, ok, err := t.list(id)
		if err != nil {
			return err
		}

		if !ok {
			return notFound(models.KindList, id)
		}

		if l.Version > baseVersion {
			return &ConflictError{EntityType: models.KindList, ID: id, Entity: l}
		}

		out = patch.Apply(l).Bump(t.now)

		return t.putList(out)
	})

	return out, err
}

// CreateCard stores a new card at version 1 and adds it to its list.
// A replayed create returns the stored card unchanged.
func (s *Store) CreateCard(in models.Card) (models.Card, error) {
	if in.ID == "" {
		return models.Card{}, invalid("card id is required")
	}

	var out models.Card

	err := s.update(func(t *txn) error {
		existing, ok, err := t.card(in.ID)
		if err != nil {
			return err
		}

		if ok {
			out = existing
			return nil
		}

		l, ok, err := t.list(in.ListID)
		if err != nil {
			return err
		}

		if !ok {
			return notFound(models.KindList, in.ListID)
		}

		out = in.Clone()
		out.Version = models.CreatedVersion
		out.LastModifiedAt = t.now

		if !slices.Contains(l.CardIDs, out.ID) {
			l.CardIDs = append(l.CardIDs, out.ID)
			if err := t.putList(l.Bump(t.now)); err != nil {
				return err
			}
		}

		return t.putCard(out)
	})

	return out, err
}

// UpdateCard patches a card whose version is not newer than baseVersion.
// A listId change moves the card to the end of the new list.
func (s *Store) UpdateCard(id string, patch queue.CardPatch, baseVersion int64) (models.Card, error) {
	var out models.Card

	err := s.update(func(t *txn) error {
		c, ok, err := t.card(id)
		if err != nil {
			return err
		}

		if !ok {
			return notFound(models.KindCard, id)
		}

		if c.Version > baseVersion {
			return &ConflictError{EntityType: models.KindCard, ID: id, Entity: c}
		}

		out, err = t.writeCard(c, patch.Apply(c.Clone()))

		return err
	})

	return out, err
}

// ForceCard overwrites a card's mergeable fields with no version check.
// Last writer wins: a write that landed since the caller's read is lost.
func (s *Store) ForceCard(in models.Card) (models.Card, error) {
	var out models.Card

	err := s.update(func(t *txn) error {
		c, ok, err := t.card(in.ID)
		if err != nil {
			return err
		}

		if !ok {
			return notFound(models.KindCard, in.ID)
		}

		next := c.Clone()
		next.Title = in.Title
		next.Description = in.Description
		next.Tags = in.Tags
		next.ListID = in.ListID

		out, err = t.writeCard(c, next)

		return err
	})

	return out, err
}

// writeCard stores next over prev, bumping it and keeping list
// membership in step with ListID. An unknown ListID is ignored.
func (t *txn) writeCard(prev, next models.Card) (models.Card, error) {
	if next.ListID != prev.ListID {
		_, ok, err := t.list(next.ListID)
		if err != nil {
			return models.Card{}, err
		}

		if ok {
			if _, _, err := t.relocate(prev.ID, next.ListID, math.MaxInt); err != nil {
				return models.Card{}, err
			}
		} else {
			next.ListID = prev.ListID
		}
	}

	next = next.Bump(t.now)

	return next, t.putCard(next)
}

// DeleteCard removes a card and pulls it out of every list. Deleting a
// missing card succeeds.
func (s *Store) DeleteCard(id string) error {
	return s.update(func(t *txn) error {
		detached, err := t.detach(id)
		if err != nil {
			return err
		}

		for _, l := range detached {
			if err := t.putList(l.Bump(t.now)); err != nil {
				return err
			}
		}

		return t.tx.Bucket(cardsBucket).Delete([]byte(id))
	})
}

// MoveResult is the outcome of MoveCard.
type MoveResult struct {
	Card     models.Card
	FromList models.List
	ToList   models.List
}

// MoveCard moves a card to an index in a list. The index is clamped.
func (s *Store) MoveCard(req queue.CardMovePayload) (MoveResult, error) {
	var res MoveResult

	err := s.update(func(t *txn) error {
		c, ok, err := t.card(req.CardID)
		if err != nil {
			return err
		}

		if !ok {
			return notFound(models.KindCard, req.CardID)
		}

		if c.Version > req.BaseCardVersion {
			return &ConflictError{EntityType: models.KindCard, ID: c.ID, Entity: c}
		}

		from, to, err := t.relocate(c.ID, req.ToListID, req.ToIndex)
		if err != nil {
			return err
		}

		c.ListID = to.ID
		c = c.Bump(t.now)

		res = MoveResult{Card: c, FromList: from, ToList: to}

		return t.putCard(c)
	})

	return res, err
}

// Import replaces the whole board with snap, keeping its versions.
func (s *Store) Import(snap models.Snapshot) error {
	snap = snap.Clone().Normalize()

	return s.update(func(t *txn) error {
		if err := t.clear(); err != nil {
			return err
		}

		for _, l := range snap.Lists.ByID {
			if err := t.putList(l); err != nil {
				return err
			}
		}

		for _, c := range snap.Cards.ByID {
			if err := t.putCard(c); err != nil {
				return err
			}
		}

		return t.setOrder(snap.Lists.AllIDs)
	})
}

// Reset empties the board.
func (s *Store) Reset() error {
	return s.update(func(t *txn) error { return t.clear() })
}

func (t *txn) clear() error {
	for _, name := range [][]byte{listsBucket, cardsBucket, metaBucket} {
		if err := t.tx.DeleteBucket(name); err != nil {
			return err
		}

		if _, err := t.tx.CreateBucket(name); err != nil {
			return err
		}
	}

	return nil
}
