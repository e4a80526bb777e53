package e2e_test

import (
	"context"
	"testing"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/api"
	"github.com/alexjbarnes/kanban-sync/internal/board"
	"github.com/alexjbarnes/kanban-sync/internal/connectivity"
	"github.com/alexjbarnes/kanban-sync/internal/engine"
	"github.com/alexjbarnes/kanban-sync/internal/merge"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
	"github.com/alexjbarnes/kanban-sync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineCreate_SyncsAndSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	c := h.newClient(t)

	c.Store.SetForceOffline(true)

	l, err := c.Store.AddList("Todo")
	require.NoError(t, err)
	card, err := c.Store.AddCard(board.NewCard{ListID: l.ID, Title: "Offline Task"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), card.Version)

	assert.Equal(t, engine.OutcomeOffline, c.drain(t))
	assert.Equal(t, 2, c.Store.Queue().Len())

	c.restart(t)
	assert.Equal(t, 2, c.Store.Queue().Len(), "queue survives a restart")
	assert.True(t, c.Store.ForceOffline())

	c.Store.SetForceOffline(false)
	c.mustSync(t)

	got, ok := c.Store.CardByID(card.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Version)

	snap, err := h.Remote.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Offline Task", snap.Cards.ByID[card.ID].Title)
	assert.Equal(t, []string{card.ID}, snap.Lists.ByID[l.ID].CardIDs)

	c.restart(t)

	got, ok = c.Store.CardByID(card.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 0, c.Store.Queue().Len())
	assert.NotNil(t, c.Store.Snapshot().Sync.LastSyncAt)
}

// sharedCard creates a card on one client, syncs it and pulls it onto a
// second client.
func sharedCard(t *testing.T, h *harness) (a, b *client, listID, cardID string) {
	t.Helper()

	a = h.newClient(t)
	b = h.newClient(t)

	l, err := a.Store.AddList("Todo")
	require.NoError(t, err)
	card, err := a.Store.AddCard(board.NewCard{ListID: l.ID, Title: "Shared"})
	require.NoError(t, err)
	a.mustSync(t)

	b.refresh(t)
	require.Equal(t, "Shared", cardTitle(t, b, card.ID))

	return a, b, l.ID, card.ID
}

func TestConcurrentTitleEdit_ConflictBlocksUntilResolved(t *testing.T) {
	h := newHarness(t)
	a, b, listID, cardID := sharedCard(t, h)

	require.NoError(t, a.Store.UpdateCard(cardID, queue.CardPatch{Title: ptr("From A")}))
	require.NoError(t, b.Store.UpdateCard(cardID, queue.CardPatch{Title: ptr("From B")}))

	a.mustSync(t)

	_, err := b.Store.AddCard(board.NewCard{ListID: listID, Title: "Queued behind"})
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeConflict, b.drain(t))

	conflict := b.Store.PendingConflict()
	require.NotNil(t, conflict)
	assert.Equal(t, []string{"title"}, conflict.Conflicts)
	assert.Equal(t, "Shared", conflict.Base.Card.Title)
	assert.Equal(t, "From B", conflict.Local.Card.Title)
	assert.Equal(t, "From A", conflict.Server.Card.Title)
	assert.Contains(t, conflict.Diffs, "title")

	assert.Equal(t, engine.OutcomeBlocked, b.drain(t))
	assert.Equal(t, 2, b.Store.Queue().Len())

	b.restart(t)
	require.NotNil(t, b.Store.PendingConflict(), "conflict survives a restart")

	require.NoError(t, b.Engine.ResolveMerge(context.Background(), merge.Resolution{"title": merge.Local}))

	assert.Nil(t, b.Store.PendingConflict())
	assert.Equal(t, 0, b.Store.Queue().Len())
	assert.Equal(t, "From B", cardTitle(t, b, cardID))

	a.refresh(t)
	assert.Equal(t, "From B", cardTitle(t, a, cardID))

	snap, err := h.Remote.GetState(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Lists.ByID[listID].CardIDs, 2)
}

func TestConcurrentDisjointEdits_AutoMerge(t *testing.T) {
	h := newHarness(t)
	a, b, _, cardID := sharedCard(t, h)

	require.NoError(t, a.Store.UpdateCard(cardID, queue.CardPatch{Title: ptr("Better title")}))
	require.NoError(t, b.Store.UpdateCard(cardID, queue.CardPatch{Description: ptr("details from B")}))

	a.mustSync(t)
	b.mustSync(t)

	assert.Nil(t, b.Store.PendingConflict())

	card, ok := b.Store.CardByID(cardID)
	require.True(t, ok)
	assert.Equal(t, "Better title", card.Title)
	assert.Equal(t, "details from B", card.Description)
}

func TestConcurrentListRename_AlwaysAsks(t *testing.T) {
	h := newHarness(t)
	a, b, listID, _ := sharedCard(t, h)

	require.NoError(t, a.Store.ArchiveList(listID, true))
	require.NoError(t, b.Store.RenameList(listID, "Doing"))

	a.mustSync(t)
	assert.Equal(t, engine.OutcomeConflict, b.drain(t))

	conflict := b.Store.PendingConflict()
	require.NotNil(t, conflict)
	assert.Equal(t, []string{"title", "archived"}, conflict.Conflicts)

	err := b.Engine.ResolveMerge(context.Background(), merge.Resolution{"archived": merge.Server})
	require.NoError(t, err)

	l, ok := b.Store.ListByID(listID)
	require.True(t, ok)
	assert.Equal(t, "Doing", l.Title)
	assert.True(t, l.Archived)
}

func TestStaleEditOfDeletedCard_IsDropped(t *testing.T) {
	h := newHarness(t)
	a, b, _, cardID := sharedCard(t, h)

	require.NoError(t, a.Store.DeleteCard(cardID))
	a.mustSync(t)

	require.NoError(t, b.Store.UpdateCard(cardID, queue.CardPatch{Title: ptr("Too late")}))
	b.mustSync(t)

	_, ok := b.Store.CardByID(cardID)
	assert.False(t, ok)
}

func TestMoveAcrossClients(t *testing.T) {
	h := newHarness(t)
	a, b, todoID, cardID := sharedCard(t, h)

	done, err := a.Store.AddList("Done")
	require.NoError(t, err)
	a.mustSync(t)
	b.refresh(t)

	require.NoError(t, b.Store.MoveCard(cardID, done.ID, 0))
	b.mustSync(t)
	a.refresh(t)

	todo, _ := a.Store.ListByID(todoID)
	assert.Empty(t, todo.CardIDs)

	got, _ := a.Store.ListByID(done.ID)
	assert.Equal(t, []string{cardID}, got.CardIDs)
}

func TestInjectedFailure_KeepsQueueForRetry(t *testing.T) {
	h := newHarness(t)
	c := h.newClient(t)

	_, err := h.Remote.SetControls(context.Background(), api.Controls{FailNext: true})
	require.NoError(t, err)

	_, err = c.Store.AddList("Todo")
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeFailed, c.drain(t))

	st := c.Engine.Status()
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, 1, st.Pending)
	assert.False(t, st.IsSyncing)

	c.mustSync(t)
	assert.Empty(t, c.Engine.Status().Error)
}

func TestBackgroundClient_DrainsWhenServerReachable(t *testing.T) {
	h := newHarness(t)

	dir := t.TempDir()
	c := &client{Dir: dir, h: h}
	c.open(t)
	t.Cleanup(func() { c.State.Close() })

	monitor, err := connectivity.NewMonitor(h.URL, quietLogger,
		connectivity.WithHeartbeat(20*time.Millisecond),
		connectivity.WithBackoff(10*time.Millisecond, 50*time.Millisecond),
	)
	require.NoError(t, err)

	eng := engine.New(c.Store, remote.NewClient(h.URL, nil), monitor, quietLogger,
		engine.WithInterval(time.Hour),
		engine.WithOnlineEvents(monitor.Events()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = monitor.Run(ctx) }()
	go func() { _ = eng.Run(ctx) }()

	l, err := c.Store.AddList("Background")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := h.Remote.GetState(context.Background())
		return err == nil && len(snap.Lists.ByID) == 1 && snap.Lists.ByID[l.ID].Title == "Background"
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return c.Store.Queue().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestReplayedCreate_StillConflictsWithLaterWriter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newClient(t)

	l, err := a.Store.AddList("Todo")
	require.NoError(t, err)
	a.mustSync(t)

	a.Store.SetForceOffline(true)

	card, err := a.Store.AddCard(board.NewCard{ListID: l.ID, Title: "Draft"})
	require.NoError(t, err)
	require.NoError(t, a.Store.UpdateCard(card.ID, queue.CardPatch{Title: ptr("A title")}))

	// The create reached the server but its response never came back.
	_, err = h.Remote.CreateCard(ctx, card)
	require.NoError(t, err)
	_, err = h.Remote.UpdateCard(ctx, card.ID, queue.CardPatch{Title: ptr("B title")}, 1)
	require.NoError(t, err)

	a.Store.SetForceOffline(false)
	assert.Equal(t, engine.OutcomeConflict, a.drain(t))

	conflict := a.Store.PendingConflict()
	require.NotNil(t, conflict)
	assert.Equal(t, []string{"title"}, conflict.Conflicts)
	assert.Equal(t, "A title", conflict.Local.Card.Title)
	assert.Equal(t, "B title", conflict.Server.Card.Title)

	snap, err := h.Remote.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B title", snap.Cards.ByID[card.ID].Title, "the other writer's edit is kept")
}
