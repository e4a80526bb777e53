package server

import (
	"path/filepath"
	"testing"
	"time"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := OpenStore(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	s.now = func() time.Time { return t0 }

	return s
}

// seeded returns a store with list l1 holding c1, c2 and an empty l2.
func seeded(t *testing.T) *Store {
	t.Helper()

	s := testStore(t)

	_, err := s.CreateList(models.List{ID: "l1", Title: "Todo"})
	require.NoError(t, err)
	_, err = s.CreateList(models.List{ID: "l2", Title: "Done"})
	require.NoError(t, err)

	for _, id := range []string{"c1", "c2"} {
		_, err := s.CreateCard(models.Card{ID: id, ListID: "l1", Title: id})
		require.NoError(t, err)
	}

	return s
}

func mustState(t *testing.T, s *Store) models.Snapshot {
	t.Helper()

	snap, err := s.State()
	require.NoError(t, err)

	return snap
}

func ptr[T any](v T) *T { return &v }

func TestCreateList_VersionOneAndUnarchived(t *testing.T) {
	s := testStore(t)

	l, err := s.CreateList(models.List{ID: "l1", Title: "Todo", Archived: true, Version: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.Version)
	assert.False(t, l.Archived)
	assert.Equal(t, []string{}, l.CardIDs)
	assert.Equal(t, t0, l.LastModifiedAt)

	snap := mustState(t, s)
	assert.Equal(t, []string{"l1"}, snap.Lists.AllIDs)
}

func TestCreateList_ReplayReturnsExisting(t *testing.T) {
	s := seeded(t)

	l, err := s.CreateList(models.List{ID: "l1", Title: "Other"})
	require.NoError(t, err)
	assert.Equal(t, "Todo", l.Title)
	assert.Equal(t, []string{"l1", "l2"}, mustState(t, s).Lists.AllIDs)
}

func TestCreateList_RequiresID(t *testing.T) {
	_, err := testStore(t).CreateList(models.List{Title: "x"})
	assert.ErrorIs(t, err, kerrors.ErrValidation)
}

func TestCreateCard_AddsToListAndBumps(t *testing.T) {
	s := seeded(t)
	snap := mustState(t, s)

	assert.Equal(t, []string{"c1", "c2"}, snap.Lists.ByID["l1"].CardIDs)
	assert.Equal(t, int64(3), snap.Lists.ByID["l1"].Version)
	assert.Equal(t, int64(1), snap.Cards.ByID["c1"].Version)
	assert.Equal(t, []string{}, snap.Cards.ByID["c1"].Tags)
}

func TestCreateCard_MissingList(t *testing.T) {
	_, err := testStore(t).CreateCard(models.Card{ID: "c1", ListID: "nope"})
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestUpdateList(t *testing.T) {
	s := seeded(t)

	l, err := s.UpdateList("l2", queue.ListPatch{Title: ptr("Shipped")}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Shipped", l.Title)
	assert.Equal(t, int64(2), l.Version)

	_, err = s.UpdateList("l2", queue.ListPatch{Archived: ptr(true)}, 1)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.KindList, ce.EntityType)
	assert.Equal(t, "Shipped", ce.Entity.(models.List).Title)
	assert.ErrorIs(t, err, kerrors.ErrConflict)

	_, err = s.UpdateList("nope", queue.ListPatch{}, 0)
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestUpdateCard_VersionCheck(t *testing.T) {
	s := seeded(t)

	c, err := s.UpdateCard("c1", queue.CardPatch{Title: ptr("A")}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Version)

	_, err = s.UpdateCard("c1", queue.CardPatch{Title: ptr("B")}, 1)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "A", ce.Entity.(models.Card).Title)

	_, err = s.UpdateCard("c1", queue.CardPatch{Title: ptr("C")}, 5)
	assert.NoError(t, err, "a base newer than the server is accepted")
}

func TestUpdateCard_ListChangeMovesMembership(t *testing.T) {
	s := seeded(t)

	_, err := s.UpdateCard("c1", queue.CardPatch{ListID: ptr("l2")}, 1)
	require.NoError(t, err)

	snap := mustState(t, s)
	assert.Equal(t, []string{"c2"}, snap.Lists.ByID["l1"].CardIDs)
	assert.Equal(t, []string{"c1"}, snap.Lists.ByID["l2"].CardIDs)
	assert.Equal(t, "l2", snap.Cards.ByID["c1"].ListID)
}

func TestForceCard(t *testing.T) {
	s := seeded(t)

	c, err := s.ForceCard(models.Card{ID: "c1", ListID: "l2", Title: "Merged", Tags: []string{"x"}, Version: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Version, "force bumps the stored version, ignoring the payload version")
	assert.Equal(t, "Merged", c.Title)

	snap := mustState(t, s)
	assert.Equal(t, []string{"c1"}, snap.Lists.ByID["l2"].CardIDs)
	assert.NotContains(t, snap.Lists.ByID["l1"].CardIDs, "c1")

	_, err = s.ForceCard(models.Card{ID: "ghost"})
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestForceCard_UnknownListKeepsMembership(t *testing.T) {
	s := seeded(t)

	c, err := s.ForceCard(models.Card{ID: "c1", ListID: "nope", Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, "l1", c.ListID)
}

func TestDeleteCard(t *testing.T) {
	s := seeded(t)
	v := mustState(t, s).Lists.ByID["l1"].Version

	require.NoError(t, s.DeleteCard("c1"))

	snap := mustState(t, s)
	assert.NotContains(t, snap.Cards.ByID, "c1")
	assert.Equal(t, []string{"c2"}, snap.Lists.ByID["l1"].CardIDs)
	assert.Equal(t, v+1, snap.Lists.ByID["l1"].Version)

	assert.NoError(t, s.DeleteCard("c1"), "deleting twice succeeds")
}

func TestMoveCard(t *testing.T) {
	s := seeded(t)

	res, err := s.MoveCard(queue.CardMovePayload{CardID: "c2", FromListID: "l1", ToListID: "l2", ToIndex: 10, BaseCardVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, "l2", res.Card.ListID)
	assert.Equal(t, int64(2), res.Card.Version)
	assert.Equal(t, []string{"c1"}, res.FromList.CardIDs)
	assert.Equal(t, []string{"c2"}, res.ToList.CardIDs)
	assert.Equal(t, int64(2), res.ToList.Version)
}

func TestMoveCard_SameListBumpsOnce(t *testing.T) {
	s := seeded(t)
	v := mustState(t, s).Lists.ByID["l1"].Version

	res, err := s.MoveCard(queue.CardMovePayload{CardID: "c2", ToListID: "l1", ToIndex: -3, BaseCardVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c1"}, res.ToList.CardIDs)
	assert.Equal(t, v+1, res.ToList.Version)
	assert.Equal(t, res.ToList, res.FromList)
}

func TestMoveCard_Errors(t *testing.T) {
	s := seeded(t)

	_, err := s.MoveCard(queue.CardMovePayload{CardID: "ghost", ToListID: "l2"})
	assert.ErrorIs(t, err, kerrors.ErrNotFound)

	_, err = s.MoveCard(queue.CardMovePayload{CardID: "c1", ToListID: "l2", BaseCardVersion: 0})
	assert.ErrorIs(t, err, kerrors.ErrConflict)

	_, err = s.MoveCard(queue.CardMovePayload{CardID: "c1", ToListID: "nope", BaseCardVersion: 1})
	assert.ErrorIs(t, err, kerrors.ErrNotFound)

	snap := mustState(t, s)
	assert.Equal(t, []string{"c1", "c2"}, snap.Lists.ByID["l1"].CardIDs, "failed moves leave no trace")
}

func TestImportAndReset(t *testing.T) {
	s := seeded(t)

	snap := models.NewSnapshot()
	snap.Lists.ByID["x"] = models.List{ID: "x", Title: "Imported", Version: 7, CardIDs: []string{"y"}}
	snap.Lists.AllIDs = []string{"x"}
	snap.Cards.ByID["y"] = models.Card{ID: "y", ListID: "x", Version: 3}

	require.NoError(t, s.Import(snap))

	got := mustState(t, s)
	assert.Equal(t, []string{"x"}, got.Lists.AllIDs)
	assert.Equal(t, int64(7), got.Lists.ByID["x"].Version)
	assert.NotContains(t, got.Cards.ByID, "c1")

	require.NoError(t, s.Reset())
	got = mustState(t, s)
	assert.Empty(t, got.Lists.ByID)
	assert.Empty(t, got.Lists.AllIDs)
}
