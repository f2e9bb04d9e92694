// Package room manages the lifecycle of a shared game room: creation
// with a collision-checked shareable code, joining, and leaving. All peer
// visibility flows through the session store's subscription mechanism;
// this package never talks to the other player directly.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hudjsw143/royal-ishq/internal/match"
	"github.com/hudjsw143/royal-ishq/internal/session"
)

// Identity supplies the stable opaque user id for this installation.
type Identity interface {
	UserID() (string, error)
}

// IdentityFunc adapts a func to Identity.
type IdentityFunc func() (string, error)

func (f IdentityFunc) UserID() (string, error) { return f() }

// Manager creates, joins and leaves rooms against a session store. It
// remembers which room and seat this client currently occupies.
type Manager struct {
	store session.Store
	auth  Identity
	log   zerolog.Logger
	now   func() time.Time

	mu   sync.Mutex
	code string
	role session.Role
}

// NewManager wires a lifecycle manager.
func NewManager(store session.Store, auth Identity, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		auth:  auth,
		log:   log,
		now:   time.Now,
	}
}

// RoomCode returns the code of the joined room, or "" when not in one.
func (m *Manager) RoomCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

// Role returns the seat this client occupies.
func (m *Manager) Role() session.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// CreateRoom generates a unique code, writes the initial room document
// and registers the host's disconnect action. Returns the room code.
func (m *Manager) CreateRoom(ctx context.Context, name, photo, mood, status string) (string, error) {
	userID, err := m.auth.UserID()
	if err != nil || userID == "" {
		return "", ErrNotAuthenticated
	}

	code, err := uniqueCode(ctx, m.store)
	if err != nil {
		if errors.Is(err, ErrCodeCollision) {
			return "", err
		}
		return "", fmt.Errorf("create room: %w: %w", ErrSyncFailure, err)
	}

	now := m.now().UnixMilli()
	doc := &session.Room{
		RoomCode: code,
		Host: session.Player{
			ID:          userID,
			Name:        name,
			Photo:       photo,
			IsHost:      true,
			IsConnected: true,
			LastSeen:    now,
		},
		GameState: match.NewGameState(),
		CreatedAt: now,
		Mood:      mood,
		Status:    status,
	}

	if err := m.store.Create(ctx, code, doc); err != nil {
		return "", fmt.Errorf("create room: %w: %w", ErrSyncFailure, err)
	}
	if err := m.store.RegisterDisconnectAction(ctx, code, session.PathHostConnected, false); err != nil {
		m.log.Warn().Err(err).Str("room", code).Msg("register disconnect action")
	}

	m.mu.Lock()
	m.code = code
	m.role = session.RoleHost
	m.mu.Unlock()

	m.log.Info().Str("room", code).Msg("room created")
	return code, nil
}

// JoinRoom takes the guest seat in an existing room and flips the match
// into the board phase.
func (m *Manager) JoinRoom(ctx context.Context, code, name, photo string) error {
	userID, err := m.auth.UserID()
	if err != nil || userID == "" {
		return ErrNotAuthenticated
	}

	doc, err := m.store.Get(ctx, code)
	if errors.Is(err, session.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("join room: %w: %w", ErrSyncFailure, err)
	}

	if doc.Host.ID == userID {
		return ErrCannotJoinOwnRoom
	}
	if doc.Guest != nil && doc.Guest.ID != userID {
		return ErrRoomFull
	}

	guest := session.Player{
		ID:          userID,
		Name:        name,
		Photo:       photo,
		IsConnected: true,
		LastSeen:    m.now().UnixMilli(),
	}
	patch := session.Patch{
		session.PathGuest:     &guest,
		session.PathGamePhase: session.PhaseBoard,
	}
	if err := m.store.Update(ctx, code, patch); err != nil {
		return fmt.Errorf("join room: %w: %w", ErrSyncFailure, err)
	}
	if err := m.store.RegisterDisconnectAction(ctx, code, session.PathGuestConnected, false); err != nil {
		m.log.Warn().Err(err).Str("room", code).Msg("register disconnect action")
	}

	m.mu.Lock()
	m.code = code
	m.role = session.RoleGuest
	m.mu.Unlock()

	m.log.Info().Str("room", code).Msg("room joined")
	return nil
}

// LeaveRoom tears down this client's seat. The host leaving removes the
// room and ends the match for both sides; the guest leaving clears only
// the guest slot and returns the room to waiting.
func (m *Manager) LeaveRoom(ctx context.Context) error {
	m.mu.Lock()
	code, role := m.code, m.role
	m.code, m.role = "", ""
	m.mu.Unlock()

	if code == "" {
		return nil
	}

	var err error
	if role == session.RoleHost {
		err = m.store.Remove(ctx, code)
	} else {
		err = m.store.Update(ctx, code, session.Patch{
			session.PathGuest:     nil,
			session.PathGamePhase: session.PhaseWaiting,
		})
	}
	if err != nil {
		m.log.Warn().Err(err).Str("room", code).Msg("leave room")
		return fmt.Errorf("leave room: %w: %w", ErrSyncFailure, err)
	}
	m.log.Info().Str("room", code).Str("role", string(role)).Msg("room left")
	return nil
}
