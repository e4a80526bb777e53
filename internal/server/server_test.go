package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/api"
	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
	"github.com/alexjbarnes/kanban-sync/internal/remote"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testServer(t *testing.T) (*Server, *httptest.Server, *remote.Client) {
	t.Helper()

	srv := New(seeded(t), quietLogger)
	srv.controls.DelayMs = 0
	srv.sleep = func(context.Context, time.Duration) error { return nil }

	ts := httptest.NewServer(srv.Handler(nil))
	t.Cleanup(ts.Close)

	return srv, ts, remote.NewClient(ts.URL, ts.Client())
}

func TestAPI_StateAndWrites(t *testing.T) {
	_, _, c := testServer(t)
	ctx := context.Background()

	snap, err := c.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l2"}, snap.Lists.AllIDs)

	l, err := c.CreateList(ctx, models.List{ID: "l3", Title: "New"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.Version)

	card, err := c.CreateCard(ctx, models.Card{ID: "c3", ListID: "l3", Title: "T"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), card.Version)

	title := "Renamed"
	card, err = c.UpdateCard(ctx, "c3", queue.CardPatch{Title: &title}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", card.Title)

	card.Description = "forced"
	card, err = c.ForceCard(ctx, card)
	require.NoError(t, err)
	assert.Equal(t, int64(3), card.Version)

	mv, err := c.MoveCard(ctx, api.MoveRequest{CardID: "c3", FromListID: "l3", ToListID: "l1", ToIndex: 0, BaseCardVersion: 3})
	require.NoError(t, err)
	assert.Equal(t, "c3", mv.ToList.CardIDs[0])

	require.NoError(t, c.DeleteCard(ctx, "c3"))

	snap, err = c.GetState(ctx)
	require.NoError(t, err)
	assert.NotContains(t, snap.Cards.ByID, "c3")

	archived := true
	l, err = c.UpdateList(ctx, "l3", queue.ListPatch{Archived: &archived}, snap.Lists.ByID["l3"].Version)
	require.NoError(t, err)
	assert.True(t, l.Archived)
}

func TestAPI_ConflictCarriesServerEntity(t *testing.T) {
	_, _, c := testServer(t)

	title := "stale"
	_, err := c.UpdateCard(context.Background(), "c1", queue.CardPatch{Title: &title}, 0)

	ce, ok := remote.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, models.KindCard, ce.EntityType)
	assert.Equal(t, "c1", ce.ID)

	card, err := ce.Card()
	require.NoError(t, err)
	assert.Equal(t, int64(1), card.Version)
}

func TestAPI_NotFound(t *testing.T) {
	_, _, c := testServer(t)

	_, err := c.UpdateList(context.Background(), "ghost", queue.ListPatch{}, 0)
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestAPI_BadBody(t *testing.T) {
	_, ts, _ := testServer(t)

	resp, err := http.Post(ts.URL+api.PathLists, "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_FailNextInjectsOneFailure(t *testing.T) {
	_, _, c := testServer(t)
	ctx := context.Background()

	ctl, err := c.SetControls(ctx, api.Controls{FailNext: true})
	require.NoError(t, err)
	assert.True(t, ctl.FailNext)

	_, err = c.GetState(ctx)
	require.Error(t, err)
	assert.True(t, remote.IsTransient(err))

	_, err = c.GetState(ctx)
	assert.NoError(t, err)
}

func TestAPI_FailRate(t *testing.T) {
	srv, _, c := testServer(t)
	srv.rand = func() float64 { return 0.2 }

	_, err := c.SetControls(context.Background(), api.Controls{FailRate: 0.5})
	require.NoError(t, err)

	_, err = c.GetState(context.Background())
	assert.True(t, remote.IsTransient(err))

	srv.rand = func() float64 { return 0.9 }
	_, err = c.GetState(context.Background())
	assert.NoError(t, err)
}

func TestAPI_ControlsArePartialAndClamped(t *testing.T) {
	_, ts, _ := testServer(t)

	resp, err := http.Post(ts.URL+api.PathControls, "application/json", strings.NewReader(`{"failRate": 3}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var ctl api.Controls
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ctl))
	assert.Equal(t, 1.0, ctl.FailRate)
	assert.Equal(t, 0, ctl.DelayMs, "unset fields keep their value")
}

func TestAPI_Reset(t *testing.T) {
	srv, _, c := testServer(t)
	ctx := context.Background()

	require.NoError(t, c.Reset(ctx))

	snap, err := c.GetState(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Lists.ByID)
	assert.Equal(t, api.DefaultControls(), srv.controls)
}

func TestAPI_CORSPreflight(t *testing.T) {
	srv := New(testStore(t), quietLogger)
	ts := httptest.NewServer(srv.Handler([]string{"http://app.local"}))
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+api.PathState, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://app.local")
	req.Header.Set("Access-Control-Request-Method", "PUT")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://app.local", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWS_Heartbeat(t *testing.T) {
	_, ts, _ := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+api.PathWS, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"op":"ping"}`)))

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.JSONEq(t, `{"op":"pong"}`, string(data))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
}
