// Package session defines the shared room document and the synchronized
// store it lives in. The store is a key-path document store with
// last-write-wins updates: both peers may read the document at any time,
// and write access is partitioned by convention: the active-turn seat
// writes the board, the identified loser writes the current card, and
// each seat writes only its own connection flags.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no room exists for the code.
var ErrNotFound = errors.New("session: room not found")

// Patch is a partial update keyed by slash-separated field paths, e.g.
// "gameState/gamePhase" or "host/isConnected". Each path is applied
// last-write-wins; paths from concurrent writers only conflict when they
// touch the same field.
type Patch map[string]any

// Well-known patch paths.
const (
	PathGuest             = "guest"
	PathHostConnected     = "host/isConnected"
	PathHostLastSeen      = "host/lastSeen"
	PathGuestConnected    = "guest/isConnected"
	PathGuestLastSeen     = "guest/lastSeen"
	PathGameState         = "gameState"
	PathBoard             = "gameState/board"
	PathCurrentTurn       = "gameState/currentTurn"
	PathWinner            = "gameState/winner"
	PathGamePhase         = "gameState/gamePhase"
	PathLoser             = "gameState/loser"
	PathCurrentCard       = "gameState/currentCard"
	PathScores            = "gameState/scores"
	PathRoundsPlayed      = "gameState/roundsPlayed"
	PathReadyForNextRound = "gameState/readyForNextRound"
)

// Store is the synchronized document store backing online play. Subscribe
// delivers a snapshot on every change and nil once the room is removed.
// The connectivity feed reports whether this client can currently reach
// the store; it is authoritative for connection-state decisions, while
// heartbeat writes only keep peer-visible liveness fresh.
type Store interface {
	Create(ctx context.Context, code string, room *Room) error
	Get(ctx context.Context, code string) (*Room, error)
	Update(ctx context.Context, code string, patch Patch) error
	Remove(ctx context.Context, code string) error
	Subscribe(ctx context.Context, code string, onChange func(*Room), onErr func(error)) (func(), error)

	// RegisterDisconnectAction arranges for the given path to be set to
	// value if this client vanishes without an explicit leave.
	RegisterDisconnectAction(ctx context.Context, code, path string, value any) error

	// Connectivity returns a feed of reachability transitions plus a
	// release func. The current state is delivered first.
	Connectivity(ctx context.Context) (<-chan bool, func(), error)
}

// ConnectedPath returns the isConnected patch path for a role.
func ConnectedPath(role Role) string {
	if role == RoleHost {
		return PathHostConnected
	}
	return PathGuestConnected
}

// LastSeenPath returns the lastSeen patch path for a role.
func LastSeenPath(role Role) string {
	if role == RoleHost {
		return PathHostLastSeen
	}
	return PathGuestLastSeen
}

// Apply mutates the room according to a single patch path. Values may be
// typed Go values or raw JSON (as received off the wire); both are
// normalized through JSON.
func Apply(room *Room, path string, value any) error {
	switch path {
	case PathGuest:
		return assign(&room.Guest, value)
	case PathHostConnected:
		return assign(&room.Host.IsConnected, value)
	case PathHostLastSeen:
		return assign(&room.Host.LastSeen, value)
	case PathGuestConnected:
		if room.Guest == nil {
			return nil
		}
		return assign(&room.Guest.IsConnected, value)
	case PathGuestLastSeen:
		if room.Guest == nil {
			return nil
		}
		return assign(&room.Guest.LastSeen, value)
	case PathGameState:
		return assign(&room.GameState, value)
	case PathBoard:
		return assign(&room.GameState.Board, value)
	case PathCurrentTurn:
		return assign(&room.GameState.CurrentTurn, value)
	case PathWinner:
		return assign(&room.GameState.Winner, value)
	case PathGamePhase:
		return assign(&room.GameState.GamePhase, value)
	case PathLoser:
		return assign(&room.GameState.Loser, value)
	case PathCurrentCard:
		return assign(&room.GameState.CurrentCard, value)
	case PathScores:
		return assign(&room.GameState.Scores, value)
	case PathRoundsPlayed:
		return assign(&room.GameState.RoundsPlayed, value)
	case PathReadyForNextRound:
		return assign(&room.GameState.ReadyForNextRound, value)
	default:
		return fmt.Errorf("session: unknown patch path %q", path)
	}
}

func assign[T any](dst *T, value any) error {
	if value == nil {
		var zero T
		*dst = zero
		return nil
	}
	if typed, ok := value.(T); ok {
		*dst = typed
		return nil
	}
	raw, ok := value.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("session: encode patch value: %w", err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("session: decode patch value: %w", err)
	}
	return nil
}
