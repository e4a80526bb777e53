package e2e_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alexjbarnes/kanban-sync/internal/api"
	"github.com/alexjbarnes/kanban-sync/internal/board"
	"github.com/alexjbarnes/kanban-sync/internal/engine"
	"github.com/alexjbarnes/kanban-sync/internal/remote"
	"github.com/alexjbarnes/kanban-sync/internal/server"
	"github.com/alexjbarnes/kanban-sync/internal/state"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// harness holds the full e2e stack: a reference server over real HTTP
// and a control client for injecting faults and inspecting its state.
type harness struct {
	URL    string
	Remote *remote.Client
}

// newHarness starts a reference server on a temp database with latency
// injection switched off.
func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := server.OpenStore(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ts := httptest.NewServer(server.New(store, quietLogger).Handler(nil))
	t.Cleanup(ts.Close)

	rc := remote.NewClient(ts.URL, ts.Client())
	_, err = rc.SetControls(context.Background(), api.Controls{})
	require.NoError(t, err)

	return &harness{URL: ts.URL, Remote: rc}
}

// client is one device: its own durable state, store and engine.
type client struct {
	Dir    string
	State  *state.State
	Store  *board.Store
	Engine *engine.Engine

	h *harness
}

func (h *harness) newClient(t *testing.T) *client {
	t.Helper()

	c := &client{Dir: t.TempDir(), h: h}
	c.open(t)
	t.Cleanup(func() { c.State.Close() })

	return c
}

func (c *client) open(t *testing.T) {
	t.Helper()

	st, err := state.Load(c.Dir)
	require.NoError(t, err)

	c.State = st
	c.Store = board.Load(st, quietLogger)
	c.Engine = engine.New(c.Store, remote.NewClient(c.h.URL, nil), nil, quietLogger)
}

// restart closes the client's database and loads everything back from
// disk, as a process restart would.
func (c *client) restart(t *testing.T) {
	t.Helper()

	require.NoError(t, c.State.Close())
	c.open(t)
}

func (c *client) drain(t *testing.T) engine.Outcome {
	t.Helper()
	return c.Engine.Drain(context.Background())
}

func (c *client) mustSync(t *testing.T) {
	t.Helper()

	outcome := c.drain(t)
	require.Equal(t, engine.OutcomeSynced, outcome, "status: %+v", c.Engine.Status())
}

func (c *client) refresh(t *testing.T) {
	t.Helper()
	require.NoError(t, c.Engine.Refresh(context.Background()))
}

func ptr[T any](v T) *T { return &v }

func cardTitle(t *testing.T, c *client, id string) string {
	t.Helper()

	card, ok := c.Store.CardByID(id)
	require.True(t, ok, fmt.Sprintf("card %s missing", id))

	return card.Title
}
