// Package online supervises one networked play session: it owns the room
// subscription, keeps peer-visible liveness fresh with a heartbeat, and
// drives reconnection with bounded exponential backoff when the store's
// connectivity signal drops. The connectivity feed is authoritative for
// state transitions; the heartbeat only keeps lastSeen fresh for the
// opponent.
package online

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hudjsw143/royal-ishq/internal/room"
	"github.com/hudjsw143/royal-ishq/internal/session"
)

// State of the supervised connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateConnected    State = "connected"
)

// Config holds the liveness/reconnection knobs.
type Config struct {
	HeartbeatInterval  time.Duration
	DisconnectDebounce time.Duration
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	MaxAttempts        int
}

// DefaultConfig returns the shipped timing defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  10 * time.Second,
		DisconnectDebounce: 2 * time.Second,
		BackoffBase:        1 * time.Second,
		BackoffCap:         16 * time.Second,
		MaxAttempts:        5,
	}
}

// Backoff returns the delay before the given attempt: base*2^attempt,
// capped.
func (c Config) Backoff(attempt int) time.Duration {
	delay := c.BackoffBase
	for range attempt {
		delay *= 2
		if delay >= c.BackoffCap {
			return c.BackoffCap
		}
	}
	return min(delay, c.BackoffCap)
}

// Session supervises one client's membership in one room. Create with
// NewSession, then Start; Close tears down the subscription, heartbeat
// and watcher deterministically.
type Session struct {
	store  session.Store
	code   string
	role   session.Role
	userID string
	cfg    Config
	log    zerolog.Logger

	// sleep is the backoff wait; injectable so tests can record delays.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	onState func(State)
	onRoom  func(*session.Room)
	onError func(error)

	mu          sync.Mutex
	state       State
	room        *session.Room
	opponentUp  bool
	unsubscribe func()
	closed      bool

	reconnecting atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	stop    chan struct{}
	wg      sync.WaitGroup
	release func()
}

// Option configures a Session.
type Option func(*Session)

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// OnState registers a state-transition callback.
func OnState(fn func(State)) Option {
	return func(s *Session) { s.onState = fn }
}

// OnRoom registers a room-snapshot callback.
func OnRoom(fn func(*session.Room)) Option {
	return func(s *Session) { s.onRoom = fn }
}

// OnError registers a callback for user-facing failures discovered
// asynchronously (RemovedFromRoom, RoomGone, ReconnectExhausted).
func OnError(fn func(error)) Option {
	return func(s *Session) { s.onError = fn }
}

// NewSession builds a supervisor for one seat in one room.
func NewSession(store session.Store, code string, role session.Role, userID string, cfg Config, opts ...Option) *Session {
	s := &Session{
		store:  store,
		code:   code,
		role:   role,
		userID: userID,
		cfg:    cfg,
		log:    zerolog.Nop(),
		now:    time.Now,
		state:  StateDisconnected,
		stop:   make(chan struct{}),
	}
	s.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return context.Canceled
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the latest room snapshot, or nil before the first one.
func (s *Session) Room() *session.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// OpponentConnected reports the peer's liveness as last written by the
// peer's own heartbeat or disconnect action. It is derived, not sensed.
func (s *Session) OpponentConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opponentUp
}

// Start subscribes to the room and the connectivity feed and begins the
// heartbeat. The session reports connected once the subscription is
// established.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.resubscribe(); err != nil {
		return err
	}

	feed, release, err := s.store.Connectivity(s.ctx)
	if err != nil {
		return err
	}
	s.release = release

	s.setState(StateConnected)

	s.wg.Add(2)
	go s.watchConnectivity(feed)
	go s.heartbeat()
	return nil
}

// Close tears down the supervisor. Safe to call once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	close(s.stop)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if unsubscribe != nil {
		unsubscribe()
	}
	if s.release != nil {
		s.release()
	}
}

// Retry re-runs the reconnection procedure from attempt zero. Used by
// the manual-retry affordance after ReconnectExhausted.
func (s *Session) Retry(ctx context.Context) {
	s.setState(StateReconnecting)
	s.runReconnect(ctx)
}

// Resume re-verifies this seat and refreshes the subscription without
// waiting for the connectivity signal. Called when the application
// returns to the foreground, where stale subscriptions can survive a
// sleep/resume cycle.
func (s *Session) Resume(ctx context.Context) error {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return nil
	}
	defer s.reconnecting.Store(false)

	err := s.probe(ctx)
	if err != nil {
		s.handleFatal(err)
	}
	return err
}

// watchConnectivity applies the debounce on loss and kicks off
// reconnection when the outage persists.
func (s *Session) watchConnectivity(feed <-chan bool) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case up, ok := <-feed:
			if !ok {
				return
			}
			if up {
				continue
			}
			if !s.debounceOutage(feed) {
				return
			}
		}
	}
}

// debounceOutage waits out the debounce window; a recovery within it is
// treated as a microdisconnect and ignored. Returns false on shutdown.
func (s *Session) debounceOutage(feed <-chan bool) bool {
	timer := time.NewTimer(s.cfg.DisconnectDebounce)
	defer timer.Stop()
	for {
		select {
		case <-s.stop:
			return false
		case up, ok := <-feed:
			if !ok {
				return false
			}
			if up {
				return true
			}
		case <-timer.C:
			s.setState(StateReconnecting)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runReconnect(s.ctx)
			}()
			return true
		}
	}
}

// runReconnect executes the bounded backoff loop. A second invocation
// while one is in flight is a no-op.
func (s *Session) runReconnect(ctx context.Context) {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer s.reconnecting.Store(false)

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if err := s.sleep(ctx, s.cfg.Backoff(attempt)); err != nil {
			return
		}
		err := s.probe(ctx)
		if err == nil {
			s.log.Info().Int("attempt", attempt).Str("room", s.code).Msg("reconnected")
			return
		}
		if errors.Is(err, room.ErrRoomGone) || errors.Is(err, room.ErrRemovedFromRoom) {
			s.handleFatal(err)
			return
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
	}

	s.setState(StateDisconnected)
	s.log.Error().Str("room", s.code).Msg("reconnect attempts exhausted")
	if s.onError != nil {
		s.onError(room.ErrReconnectExhausted)
	}
}

// probe is one reconnection attempt: re-fetch the document, verify this
// seat still belongs to us, re-mark ourselves connected, re-register the
// disconnect action and refresh the subscription.
func (s *Session) probe(ctx context.Context) error {
	doc, err := s.store.Get(ctx, s.code)
	if errors.Is(err, session.ErrNotFound) {
		return room.ErrRoomGone
	}
	if err != nil {
		return err
	}

	seat := doc.Seat(s.role)
	if seat == nil || seat.ID != s.userID {
		return room.ErrRemovedFromRoom
	}

	patch := session.Patch{
		session.ConnectedPath(s.role): true,
		session.LastSeenPath(s.role):  s.now().UnixMilli(),
	}
	if err := s.store.Update(ctx, s.code, patch); err != nil {
		return err
	}
	if err := s.store.RegisterDisconnectAction(ctx, s.code, session.ConnectedPath(s.role), false); err != nil {
		s.log.Warn().Err(err).Msg("re-register disconnect action")
	}
	if err := s.resubscribe(); err != nil {
		return err
	}

	s.setState(StateConnected)
	return nil
}

// handleFatal clears local room state after a permanent removal.
func (s *Session) handleFatal(err error) {
	s.mu.Lock()
	s.room = nil
	s.opponentUp = false
	s.mu.Unlock()

	s.setState(StateDisconnected)
	s.log.Warn().Err(err).Str("room", s.code).Msg("removed from room")
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Session) resubscribe() error {
	s.mu.Lock()
	old := s.unsubscribe
	s.mu.Unlock()
	if old != nil {
		old()
	}

	unsubscribe, err := s.store.Subscribe(s.ctx, s.code, s.handleSnapshot, s.handleStreamError)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	return nil
}

func (s *Session) handleSnapshot(doc *session.Room) {
	if doc == nil {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.handleFatal(room.ErrRoomGone)
		}
		return
	}

	s.mu.Lock()
	s.room = doc
	opponent := doc.Seat(s.role.Opponent())
	s.opponentUp = opponent != nil && opponent.IsConnected
	onRoom := s.onRoom
	s.mu.Unlock()

	if onRoom != nil {
		onRoom(doc)
	}
}

func (s *Session) handleStreamError(err error) {
	s.log.Warn().Err(err).Str("room", s.code).Msg("room subscription error")
}

// heartbeat periodically writes this seat's liveness fields. Failures
// are logged only; the connectivity feed decides connection state.
func (s *Session) heartbeat() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.State() != StateConnected {
				continue
			}
			patch := session.Patch{
				session.ConnectedPath(s.role): true,
				session.LastSeenPath(s.role):  s.now().UnixMilli(),
			}
			if err := s.store.Update(s.ctx, s.code, patch); err != nil {
				s.log.Debug().Err(err).Msg("heartbeat write failed")
			}
		}
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	onState := s.onState
	s.mu.Unlock()

	s.log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("connection state")
	if onState != nil {
		onState(next)
	}
}
