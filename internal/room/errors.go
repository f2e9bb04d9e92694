package room

import "errors"

// Room operation failures surfaced to callers. Low-level store errors
// are converted into these rather than leaking past the UI boundary.
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrCannotJoinOwnRoom = errors.New("cannot join your own room")
	ErrCodeCollision     = errors.New("could not generate a unique room code")

	// ErrSyncFailure marks a transient store read/write failure; the
	// same operation may be retried.
	ErrSyncFailure = errors.New("sync failure")

	// Discovered during reconnection.
	ErrRemovedFromRoom    = errors.New("removed from room")
	ErrRoomGone           = errors.New("room no longer exists")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
