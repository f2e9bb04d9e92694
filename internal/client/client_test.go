package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hudjsw143/royal-ishq/internal/match"
	"github.com/hudjsw143/royal-ishq/internal/server"
	"github.com/hudjsw143/royal-ishq/internal/session"
)

func testRemote(t *testing.T) *RemoteStore {
	t.Helper()
	store := session.NewMemoryStore()
	srv := httptest.NewServer(server.New(store, nil, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	remote, err := Dial(context.Background(), wsURL, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })
	return remote
}

func nextSnapshot(t *testing.T, ch <-chan *session.Room) *session.Room {
	t.Helper()
	select {
	case doc := <-ch:
		return doc
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", zerolog.Nop())
	assert.Error(t, err)
}

func TestRoundtripThroughWire(t *testing.T) {
	ctx := context.Background()
	remote := testRemote(t)

	doc := &session.Room{
		RoomCode:  "ROYAL2345",
		Host:      session.Player{ID: "h1", Name: "Aisha", IsHost: true, IsConnected: true},
		GameState: match.NewGameState(),
		Mood:      "romantic",
	}
	require.NoError(t, remote.Create(ctx, "ROYAL2345", doc))

	got, err := remote.Get(ctx, "ROYAL2345")
	require.NoError(t, err)
	assert.Equal(t, "Aisha", got.Host.Name)
	assert.Equal(t, session.PhaseWaiting, got.GameState.GamePhase)
	assert.Equal(t, "romantic", got.Mood)

	require.NoError(t, remote.Update(ctx, "ROYAL2345", session.Patch{
		session.PathGamePhase: session.PhaseBoard,
		session.PathGuest:     &session.Player{ID: "g1", Name: "Rohan"},
	}))
	got, err = remote.Get(ctx, "ROYAL2345")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseBoard, got.GameState.GamePhase)
	require.NotNil(t, got.Guest)
	assert.Equal(t, "g1", got.Guest.ID)

	// Clearing the guest slot crosses the wire as an explicit null.
	require.NoError(t, remote.Update(ctx, "ROYAL2345", session.Patch{
		session.PathGuest: nil,
	}))
	got, err = remote.Get(ctx, "ROYAL2345")
	require.NoError(t, err)
	assert.Nil(t, got.Guest)

	require.NoError(t, remote.Remove(ctx, "ROYAL2345"))
	_, err = remote.Get(ctx, "ROYAL2345")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestOperationsAfterClose(t *testing.T) {
	remote := testRemote(t)
	require.NoError(t, remote.Close())

	_, err := remote.Get(context.Background(), "ROYAL2345")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribeDeliversChanges(t *testing.T) {
	ctx := context.Background()
	remote := testRemote(t)

	require.NoError(t, remote.Create(ctx, "ROYAL2345", &session.Room{
		RoomCode:  "ROYAL2345",
		Host:      session.Player{ID: "h1"},
		GameState: match.NewGameState(),
	}))

	snapshots := make(chan *session.Room, 16)
	unsubscribe, err := remote.Subscribe(ctx, "ROYAL2345", func(doc *session.Room) {
		snapshots <- doc
	}, nil)
	require.NoError(t, err)

	initial := nextSnapshot(t, snapshots)
	require.NotNil(t, initial)
	assert.Equal(t, "ROYAL2345", initial.RoomCode)

	require.NoError(t, remote.Update(ctx, "ROYAL2345", session.Patch{
		session.PathGamePhase: session.PhaseBoard,
	}))
	changed := nextSnapshot(t, snapshots)
	require.NotNil(t, changed)
	assert.Equal(t, session.PhaseBoard, changed.GameState.GamePhase)

	unsubscribe()
	unsubscribe() // idempotent
}
