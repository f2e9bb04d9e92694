package online

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hudjsw143/royal-ishq/internal/match"
	"github.com/hudjsw143/royal-ishq/internal/room"
	"github.com/hudjsw143/royal-ishq/internal/session"
)

const testCode = "ROYALTEST"

func testConfig() Config {
	return Config{
		HeartbeatInterval:  50 * time.Millisecond,
		DisconnectDebounce: 50 * time.Millisecond,
		BackoffBase:        1 * time.Second,
		BackoffCap:         16 * time.Second,
		MaxAttempts:        5,
	}
}

func seedRoom(t *testing.T, store *session.MemoryStore) {
	t.Helper()
	guest := &session.Player{ID: "guest-1", Name: "Rohan", IsConnected: true}
	doc := &session.Room{
		RoomCode:  testCode,
		Host:      session.Player{ID: "host-1", Name: "Aisha", IsHost: true, IsConnected: true},
		Guest:     guest,
		GameState: match.NewGameState(),
	}
	doc.GameState.GamePhase = session.PhaseBoard
	require.NoError(t, store.Create(context.Background(), testCode, doc))
}

// sleepRecorder replaces the backoff wait and records requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// flakyStore fails Get a scripted number of times before delegating.
type flakyStore struct {
	*session.MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Get(ctx context.Context, code string) (*session.Room, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, errors.New("transport down")
	}
	s.mu.Unlock()
	return s.MemoryStore.Get(ctx, code)
}

func waitState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func waitError(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error callback")
		return nil
	}
}

func TestBackoffSchedule(t *testing.T) {
	cfg := testConfig()
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second, 16 * time.Second,
	}
	for attempt, delay := range want {
		assert.Equal(t, delay, cfg.Backoff(attempt), "attempt %d", attempt)
	}
}

func TestStartDeliversSnapshotAndState(t *testing.T) {
	store := session.NewMemoryStore()
	seedRoom(t, store)

	rooms := make(chan *session.Room, 16)
	s := NewSession(store, testCode, session.RoleHost, "host-1", testConfig(),
		OnRoom(func(doc *session.Room) { rooms <- doc }),
	)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	select {
	case doc := <-rooms:
		assert.Equal(t, testCode, doc.RoomCode)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}
	assert.Equal(t, StateConnected, s.State())
	assert.True(t, s.OpponentConnected())
}

func TestOpponentLivenessTracksPeerWrites(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	seedRoom(t, store)

	rooms := make(chan *session.Room, 16)
	s := NewSession(store, testCode, session.RoleHost, "host-1", testConfig(),
		OnRoom(func(doc *session.Room) { rooms <- doc }),
	)
	require.NoError(t, s.Start(ctx))
	defer s.Close()
	<-rooms

	require.NoError(t, store.Update(ctx, testCode, session.Patch{session.PathGuestConnected: false}))
	<-rooms
	assert.False(t, s.OpponentConnected())

	require.NoError(t, store.Update(ctx, testCode, session.Patch{session.PathGuestConnected: true}))
	<-rooms
	assert.True(t, s.OpponentConnected())
}

func TestMicrodisconnectIsIgnored(t *testing.T) {
	store := session.NewMemoryStore()
	seedRoom(t, store)

	states := make(chan State, 16)
	s := NewSession(store, testCode, session.RoleHost, "host-1", testConfig(),
		OnState(func(st State) { states <- st }),
	)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	waitState(t, states, StateConnected)

	// Recover inside the debounce window.
	store.SetConnected(false)
	time.Sleep(10 * time.Millisecond)
	store.SetConnected(true)

	select {
	case st := <-states:
		t.Fatalf("unexpected state transition %q for a microdisconnect", st)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, StateConnected, s.State())
}

func TestOutageTriggersReconnect(t *testing.T) {
	store := session.NewMemoryStore()
	seedRoom(t, store)
	// Simulate the host's disconnect action having fired during the
	// outage; a successful probe must re-mark the seat connected.
	require.NoError(t, store.Update(context.Background(), testCode,
		session.Patch{session.PathHostConnected: false}))

	rec := &sleepRecorder{}
	states := make(chan State, 16)
	s := NewSession(store, testCode, session.RoleHost, "host-1", testConfig(),
		OnState(func(st State) { states <- st }),
	)
	s.sleep = rec.sleep
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	waitState(t, states, StateConnected)

	store.SetConnected(false)
	waitState(t, states, StateReconnecting)
	waitState(t, states, StateConnected)

	assert.Equal(t, []time.Duration{1 * time.Second}, rec.recorded(),
		"first attempt succeeds after one backoff wait")

	doc, err := store.Get(context.Background(), testCode)
	require.NoError(t, err)
	assert.True(t, doc.Host.IsConnected, "probe re-marks the seat connected")
}

func TestReconnectBacksOffThroughFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: session.NewMemoryStore(), failures: 3}
	seedRoom(t, store.MemoryStore)

	rec := &sleepRecorder{}
	states := make(chan State, 16)
	s := NewSession(store, testCode, session.RoleHost, "host-1", testConfig(),
		OnState(func(st State) { states <- st }),
	)
	s.sleep = rec.sleep
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	waitState(t, states, StateConnected)

	store.SetConnected(false)
	waitState(t, states, StateReconnecting)
	waitState(t, states, StateConnected)

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, rec.recorded())
}

func TestReconnectExhausted(t *testing.T) {
	store := &flakyStore{MemoryStore: session.NewMemoryStore(), failures: 100}
	seedRoom(t, store.MemoryStore)

	rec := &sleepRecorder{}
	states := make(chan State, 16)
	errs := make(chan error, 4)
	s := NewSession(store, testCode, session.RoleHost, "host-1", testConfig(),
		OnState(func(st State) { states <- st }),
		OnError(func(err error) { errs <- err }),
	)
	s.sleep = rec.sleep
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	waitState(t, states, StateConnected)

	store.SetConnected(false)
	waitState(t, states, StateReconnecting)
	waitState(t, states, StateDisconnected)

	assert.ErrorIs(t, waitError(t, errs), room.ErrReconnectExhausted)
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second,
	}, rec.recorded(), "five attempts, capped backoff")
}

func TestReconnectDetectsRemovedSeat(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	seedRoom(t, store)

	states := make(chan State, 16)
	errs := make(chan error, 4)
	s := NewSession(store, testCode, session.RoleGuest, "guest-1", testConfig(),
		OnState(func(st State) { states <- st }),
		OnError(func(err error) { errs <- err }),
	)
	s.sleep = (&sleepRecorder{}).sleep
	require.NoError(t, s.Start(ctx))
	defer s.Close()
	waitState(t, states, StateConnected)

	// Someone else took the guest seat while we were away.
	require.NoError(t, store.Update(ctx, testCode, session.Patch{
		session.PathGuest: &session.Player{ID: "guest-2", Name: "Meera"},
	}))
	store.SetConnected(false)
	waitState(t, states, StateReconnecting)
	waitState(t, states, StateDisconnected)

	assert.ErrorIs(t, waitError(t, errs), room.ErrRemovedFromRoom)
	assert.Nil(t, s.Room(), "local room state cleared after removal")
}

func TestRoomRemovalWhileConnected(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	seedRoom(t, store)

	states := make(chan State, 16)
	errs := make(chan error, 4)
	s := NewSession(store, testCode, session.RoleGuest, "guest-1", testConfig(),
		OnState(func(st State) { states <- st }),
		OnError(func(err error) { errs <- err }),
	)
	require.NoError(t, s.Start(ctx))
	defer s.Close()
	waitState(t, states, StateConnected)

	// The host closing the room reaches the guest as a nil snapshot.
	require.NoError(t, store.Remove(ctx, testCode))

	assert.ErrorIs(t, waitError(t, errs), room.ErrRoomGone)
	waitState(t, states, StateDisconnected)
	assert.Nil(t, s.Room())
}

func TestResumeRefreshesSeat(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	seedRoom(t, store)

	s := NewSession(store, testCode, session.RoleHost, "host-1", testConfig())
	require.NoError(t, s.Start(ctx))
	defer s.Close()

	require.NoError(t, store.Update(ctx, testCode,
		session.Patch{session.PathHostConnected: false}))
	require.NoError(t, s.Resume(ctx))

	doc, err := store.Get(ctx, testCode)
	require.NoError(t, err)
	assert.True(t, doc.Host.IsConnected)
	assert.Equal(t, StateConnected, s.State())
}

func TestResumeAfterRoomGone(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	seedRoom(t, store)

	errs := make(chan error, 4)
	s := NewSession(store, testCode, session.RoleHost, "host-1", testConfig(),
		OnError(func(err error) { errs <- err }),
	)
	require.NoError(t, s.Start(ctx))
	defer s.Close()

	require.NoError(t, store.Remove(ctx, testCode))
	// Drain the removal notification first.
	assert.ErrorIs(t, waitError(t, errs), room.ErrRoomGone)

	assert.ErrorIs(t, s.Resume(ctx), room.ErrRoomGone)
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	seedRoom(t, store)

	s := NewSession(store, testCode, session.RoleHost, "host-1", testConfig())
	s.now = func() time.Time { return time.UnixMilli(4242) }
	require.NoError(t, s.Start(ctx))
	defer s.Close()

	require.Eventually(t, func() bool {
		doc, err := store.Get(ctx, testCode)
		return err == nil && doc.Host.LastSeen == 4242
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	store := session.NewMemoryStore()
	seedRoom(t, store)

	s := NewSession(store, testCode, session.RoleHost, "host-1", testConfig())
	require.NoError(t, s.Start(context.Background()))
	s.Close()
	s.Close()
}
