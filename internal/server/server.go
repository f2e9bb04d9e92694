// Package server exposes the session store to remote peers over a
// websocket sync protocol, plus a QR endpoint for sharing room codes.
// Disconnect actions registered by a client are fired here when its
// socket closes, which is what makes "flip my flag if I vanish" work
// without the peer's cooperation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"

	"github.com/hudjsw143/royal-ishq/internal/room"
	"github.com/hudjsw143/royal-ishq/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	outboundBuffer = 64

	// Message budget per connection; this is a two-player game, so
	// anything chattier than a move per tap is abuse.
	messageRate  = 20
	messageBurst = 40
)

// Server serves the sync protocol over one session store.
type Server struct {
	store    session.Store
	catalog  json.RawMessage
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New wires a sync server. catalogJSON may be nil when the server does
// not distribute the prompt table.
func New(store session.Store, catalogJSON []byte, log zerolog.Logger) *Server {
	return &Server{
		store:   store,
		catalog: catalogJSON,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/qr/", s.handleQR)
	mux.HandleFunc("/catalog", s.handleCatalog)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// handleQR renders a room code as a PNG QR image so the host can show
// it instead of dictating the code.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Path[len("/qr/"):]
	if !room.ValidCode(code) {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// handleCatalog serves the shared prompt table to clients.
func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil {
		http.NotFound(w, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.catalog)
}

type disconnectAction struct {
	code  string
	path  string
	value json.RawMessage
}

// conn is one connected peer's server-side state.
type conn struct {
	server   *Server
	socket   *websocket.Conn
	outbound chan []byte
	done     chan struct{}
	limiter  *rate.Limiter

	subscriptions map[string]func()
	actions       []disconnectAction
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		server:        s,
		socket:        socket,
		outbound:      make(chan []byte, outboundBuffer),
		done:          make(chan struct{}),
		limiter:       rate.NewLimiter(rate.Limit(messageRate), messageBurst),
		subscriptions: make(map[string]func()),
	}

	go c.writePump()
	c.readPump(r.Context())
}

func (c *conn) readPump(ctx context.Context) {
	defer c.teardown(ctx)

	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.server.log.Warn().Err(err).Msg("malformed frame")
			continue
		}
		// Refused frames still get an ack so the sender's pending
		// request does not hang on a frame that never answers.
		if !c.limiter.Allow() {
			c.server.log.Warn().Str("op", req.Op).Msg("rate limit exceeded")
			c.send(Response{ID: req.ID, Event: EventAck, Error: CodeRateLimited})
			continue
		}
		c.dispatch(ctx, req)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown fires registered disconnect actions and releases the
// connection's subscriptions.
func (c *conn) teardown(ctx context.Context) {
	for _, unsubscribe := range c.subscriptions {
		unsubscribe()
	}
	for _, action := range c.actions {
		patch := session.Patch{action.path: action.value}
		if err := c.server.store.Update(ctx, action.code, patch); err != nil {
			c.server.log.Debug().Err(err).Str("room", action.code).Msg("disconnect action")
		}
	}
	close(c.done)
	c.socket.Close()
}

func (c *conn) dispatch(ctx context.Context, req Request) {
	switch req.Op {
	case OpCreate:
		if req.Room == nil {
			c.send(Response{ID: req.ID, Event: EventAck, Error: CodeBadOp})
			return
		}
		c.ack(req.ID, nil, c.server.store.Create(ctx, req.Code, req.Room))
	case OpGet:
		doc, err := c.server.store.Get(ctx, req.Code)
		c.ack(req.ID, doc, err)
	case OpUpdate:
		patch := make(session.Patch, len(req.Patch))
		for path, value := range req.Patch {
			patch[path] = value
		}
		c.ack(req.ID, nil, c.server.store.Update(ctx, req.Code, patch))
	case OpRemove:
		c.ack(req.ID, nil, c.server.store.Remove(ctx, req.Code))
	case OpSubscribe:
		c.subscribe(ctx, req)
	case OpUnsubscribe:
		if unsubscribe, ok := c.subscriptions[req.Code]; ok {
			unsubscribe()
			delete(c.subscriptions, req.Code)
		}
		c.ack(req.ID, nil, nil)
	case OpOnDisconnect:
		c.actions = append(c.actions, disconnectAction{
			code:  req.Code,
			path:  req.Path,
			value: req.Value,
		})
		c.ack(req.ID, nil, nil)
	default:
		c.send(Response{ID: req.ID, Event: EventAck, Error: CodeBadOp})
	}
}

func (c *conn) subscribe(ctx context.Context, req Request) {
	if _, exists := c.subscriptions[req.Code]; exists {
		c.ack(req.ID, nil, nil)
		return
	}
	code := req.Code
	unsubscribe, err := c.server.store.Subscribe(ctx, code,
		func(doc *session.Room) {
			c.send(Response{
				Event:   EventChange,
				Code:    code,
				Room:    doc,
				Present: doc != nil,
			})
		},
		func(err error) {
			c.server.log.Warn().Err(err).Str("room", code).Msg("subscription error")
		},
	)
	if err != nil {
		c.ack(req.ID, nil, err)
		return
	}
	c.subscriptions[code] = unsubscribe
	c.ack(req.ID, nil, nil)
}

func (c *conn) ack(id int64, doc *session.Room, err error) {
	resp := Response{ID: id, Event: EventAck, Room: doc, Present: doc != nil}
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		resp.Error = CodeNotFound
	default:
		c.server.log.Warn().Err(err).Msg("op failed")
		resp.Error = CodeInternal
	}
	c.send(resp)
}

func (c *conn) send(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.server.log.Error().Err(err).Msg("encode frame")
		return
	}
	select {
	case <-c.done:
	case c.outbound <- data:
	default:
		c.server.log.Warn().Msg("dropping frame to slow client")
	}
}
