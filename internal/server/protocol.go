package server

import (
	"encoding/json"

	"github.com/hudjsw143/royal-ishq/internal/session"
)

// Ops a client may send over the sync socket.
const (
	OpCreate       = "create"
	OpGet          = "get"
	OpUpdate       = "update"
	OpRemove       = "remove"
	OpSubscribe    = "subscribe"
	OpUnsubscribe  = "unsubscribe"
	OpOnDisconnect = "onDisconnect"
)

// Events pushed by the server.
const (
	EventAck    = "ack"
	EventChange = "change"
)

// Error codes carried in ack frames so clients can map failures back to
// sentinel errors.
const (
	CodeNotFound    = "not_found"
	CodeBadOp       = "bad_op"
	CodeRateLimited = "rate_limited"
	CodeInternal    = "internal"
)

// Request is one client frame. ID correlates the matching ack.
type Request struct {
	ID    int64                      `json:"id"`
	Op    string                     `json:"op"`
	Code  string                     `json:"code,omitempty"`
	Room  *session.Room              `json:"room,omitempty"`
	Patch map[string]json.RawMessage `json:"patch,omitempty"`
	Path  string                     `json:"path,omitempty"`
	Value json.RawMessage            `json:"value,omitempty"`
}

// Response is one server frame: either an ack for a request or a change
// notification for a subscribed room. A change with a nil Room means the
// room was removed.
type Response struct {
	ID      int64         `json:"id,omitempty"`
	Event   string        `json:"event"`
	Code    string        `json:"code,omitempty"`
	Room    *session.Room `json:"room,omitempty"`
	Present bool          `json:"present,omitempty"`
	Error   string        `json:"error,omitempty"`
}
