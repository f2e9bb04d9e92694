// Package client implements the session.Store contract over the sync
// server's websocket protocol. The socket doubles as the connectivity
// signal: a healthy dial reports reachable, a read failure reports not.
// Operations lazily redial, so a supervisor's reconnection probe
// re-establishes transport as a side effect of its first store call.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hudjsw143/royal-ishq/internal/server"
	"github.com/hudjsw143/royal-ishq/internal/session"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("client: store is closed")

const feedBuffer = 16

type subscription struct {
	onChange func(*session.Room)
	onErr    func(error)
}

// RemoteStore is a session.Store backed by a sync server.
type RemoteStore struct {
	url    string
	log    zerolog.Logger
	nextID atomic.Int64

	mu        sync.Mutex
	socket    *websocket.Conn
	pending   map[int64]chan server.Response
	subs      map[string]*subscription
	connFeeds []chan bool
	connected bool
	closed    bool

	writeMu sync.Mutex
}

// Dial connects to a sync server at url (ws://host/ws).
func Dial(ctx context.Context, url string, log zerolog.Logger) (*RemoteStore, error) {
	s := &RemoteStore{
		url:     url,
		log:     log,
		pending: make(map[int64]chan server.Response),
		subs:    make(map[string]*subscription),
	}
	if _, err := s.ensure(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close tears the socket down and fails all pending requests.
func (s *RemoteStore) Close() error {
	s.mu.Lock()
	s.closed = true
	socket := s.socket
	s.socket = nil
	s.mu.Unlock()
	if socket != nil {
		return socket.Close()
	}
	return nil
}

// ensure returns a live socket, redialing if the previous one died.
func (s *RemoteStore) ensure(ctx context.Context) (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.socket != nil {
		return s.socket, nil
	}

	socket, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", s.url, err)
	}
	s.socket = socket
	s.setConnectedLocked(true)
	go s.readPump(socket)
	return socket, nil
}

func (s *RemoteStore) readPump(socket *websocket.Conn) {
	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			s.handleSocketDown(socket, err)
			return
		}
		var resp server.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			s.log.Warn().Err(err).Msg("malformed frame from server")
			continue
		}
		switch resp.Event {
		case server.EventAck:
			s.mu.Lock()
			ch, ok := s.pending[resp.ID]
			delete(s.pending, resp.ID)
			s.mu.Unlock()
			if ok {
				ch <- resp
			}
		case server.EventChange:
			s.mu.Lock()
			sub := s.subs[resp.Code]
			s.mu.Unlock()
			if sub != nil {
				doc := resp.Room
				if !resp.Present {
					doc = nil
				}
				sub.onChange(doc)
			}
		}
	}
}

// handleSocketDown fails pending requests, drops the dead socket and
// flips the connectivity feed. Subscriptions stay registered locally so
// an error handler can decide to re-establish them.
func (s *RemoteStore) handleSocketDown(socket *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.socket == socket {
		s.socket = nil
		s.setConnectedLocked(false)
	}
	pending := s.pending
	s.pending = make(map[int64]chan server.Response)
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	closed := s.closed
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- server.Response{Event: server.EventAck, Error: server.CodeInternal}
	}
	if closed {
		return
	}
	s.log.Warn().Err(cause).Msg("sync socket lost")
	for _, sub := range subs {
		if sub.onErr != nil {
			sub.onErr(cause)
		}
	}
}

// request performs one op and waits for its ack.
func (s *RemoteStore) request(ctx context.Context, req server.Request) (server.Response, error) {
	socket, err := s.ensure(ctx)
	if err != nil {
		return server.Response{}, err
	}

	req.ID = s.nextID.Add(1)
	ch := make(chan server.Response, 1)
	s.mu.Lock()
	s.pending[req.ID] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	err = socket.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		return server.Response{}, fmt.Errorf("client: write %s: %w", req.Op, err)
	}

	select {
	case resp := <-ch:
		if err := respError(resp); err != nil {
			return server.Response{}, err
		}
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		return server.Response{}, ctx.Err()
	}
}

func respError(resp server.Response) error {
	switch resp.Error {
	case "":
		return nil
	case server.CodeNotFound:
		return session.ErrNotFound
	default:
		return fmt.Errorf("client: server error %q", resp.Error)
	}
}

func (s *RemoteStore) Create(ctx context.Context, code string, doc *session.Room) error {
	_, err := s.request(ctx, server.Request{Op: server.OpCreate, Code: code, Room: doc})
	return err
}

func (s *RemoteStore) Get(ctx context.Context, code string) (*session.Room, error) {
	resp, err := s.request(ctx, server.Request{Op: server.OpGet, Code: code})
	if err != nil {
		return nil, err
	}
	return resp.Room, nil
}

func (s *RemoteStore) Update(ctx context.Context, code string, patch session.Patch) error {
	encoded := make(map[string]json.RawMessage, len(patch))
	for path, value := range patch {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("client: encode %s: %w", path, err)
		}
		encoded[path] = raw
	}
	_, err := s.request(ctx, server.Request{Op: server.OpUpdate, Code: code, Patch: encoded})
	return err
}

func (s *RemoteStore) Remove(ctx context.Context, code string) error {
	_, err := s.request(ctx, server.Request{Op: server.OpRemove, Code: code})
	return err
}

func (s *RemoteStore) Subscribe(ctx context.Context, code string, onChange func(*session.Room), onErr func(error)) (func(), error) {
	sub := &subscription{onChange: onChange, onErr: onErr}
	s.mu.Lock()
	s.subs[code] = sub
	s.mu.Unlock()

	if _, err := s.request(ctx, server.Request{Op: server.OpSubscribe, Code: code}); err != nil {
		s.mu.Lock()
		delete(s.subs, code)
		s.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, code)
			s.mu.Unlock()
			_, err := s.request(context.Background(), server.Request{Op: server.OpUnsubscribe, Code: code})
			if err != nil && !errors.Is(err, ErrClosed) {
				s.log.Debug().Err(err).Str("room", code).Msg("unsubscribe")
			}
		})
	}
	return unsubscribe, nil
}

func (s *RemoteStore) RegisterDisconnectAction(ctx context.Context, code, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("client: encode disconnect value: %w", err)
	}
	_, err = s.request(ctx, server.Request{
		Op:    server.OpOnDisconnect,
		Code:  code,
		Path:  path,
		Value: raw,
	})
	return err
}

func (s *RemoteStore) Connectivity(_ context.Context) (<-chan bool, func(), error) {
	feed := make(chan bool, feedBuffer)

	s.mu.Lock()
	feed <- s.connected
	s.connFeeds = append(s.connFeeds, feed)
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, candidate := range s.connFeeds {
			if candidate == feed {
				s.connFeeds = append(s.connFeeds[:i], s.connFeeds[i+1:]...)
				return
			}
		}
	}
	return feed, release, nil
}

// setConnectedLocked pushes a reachability transition to every feed.
func (s *RemoteStore) setConnectedLocked(connected bool) {
	if s.connected == connected {
		return
	}
	s.connected = connected
	for _, feed := range s.connFeeds {
		select {
		case feed <- connected:
		default:
		}
	}
}
