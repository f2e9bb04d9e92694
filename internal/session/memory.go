package session

import (
	"context"
	"fmt"
	"sync"
)

const watchBuffer = 16

type watcher struct {
	ch   chan *Room
	stop chan struct{}
}

type disconnectAction struct {
	code  string
	path  string
	value any
}

// MemoryStore is an in-process Store. It backs the sync server and local
// play, and gives tests a real subscription mechanism without a network.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	watchers map[string][]*watcher

	actions []disconnectAction

	connMu    sync.Mutex
	connected bool
	connFeeds []chan bool
}

// NewMemoryStore returns an empty store that reports itself connected.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:     make(map[string]*Room),
		watchers:  make(map[string][]*watcher),
		connected: true,
	}
}

func (s *MemoryStore) Create(_ context.Context, code string, room *Room) error {
	if room == nil {
		return fmt.Errorf("session: nil room document for %s", code)
	}
	s.mu.Lock()
	if _, exists := s.rooms[code]; exists {
		s.mu.Unlock()
		return fmt.Errorf("session: room %s already exists", code)
	}
	s.rooms[code] = room.Clone()
	snapshot := room.Clone()
	watchers := append([]*watcher(nil), s.watchers[code]...)
	s.mu.Unlock()

	notify(watchers, snapshot)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, code string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, exists := s.rooms[code]
	if !exists || room == nil {
		return nil, ErrNotFound
	}
	return room.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, code string, patch Patch) error {
	s.mu.Lock()
	room, exists := s.rooms[code]
	if !exists || room == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	for path, value := range patch {
		if err := Apply(room, path, value); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	snapshot := room.Clone()
	watchers := append([]*watcher(nil), s.watchers[code]...)
	s.mu.Unlock()

	notify(watchers, snapshot)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, code string) error {
	s.mu.Lock()
	delete(s.rooms, code)
	watchers := append([]*watcher(nil), s.watchers[code]...)
	s.mu.Unlock()

	// Subscribers observe removal as a nil snapshot.
	notify(watchers, nil)
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, code string, onChange func(*Room), onErr func(error)) (func(), error) {
	w := &watcher{
		ch:   make(chan *Room, watchBuffer),
		stop: make(chan struct{}),
	}

	s.mu.Lock()
	s.watchers[code] = append(s.watchers[code], w)
	var initial *Room
	if room, exists := s.rooms[code]; exists {
		initial = room.Clone()
	}
	s.mu.Unlock()

	go func() {
		if initial != nil {
			onChange(initial)
		}
		for {
			select {
			case <-w.stop:
				return
			case snapshot := <-w.ch:
				onChange(snapshot)
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			list := s.watchers[code]
			for i, candidate := range list {
				if candidate == w {
					s.watchers[code] = append(list[:i], list[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
			close(w.stop)
		})
	}
	return unsubscribe, nil
}

func (s *MemoryStore) RegisterDisconnectAction(_ context.Context, code, path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, disconnectAction{code: code, path: path, value: value})
	return nil
}

// FireDisconnectActions applies and clears every registered action for
// the code, simulating the client vanishing. Used by tests and by local
// teardown paths.
func (s *MemoryStore) FireDisconnectActions(ctx context.Context, code string) {
	s.mu.Lock()
	var fire []disconnectAction
	var keep []disconnectAction
	for _, action := range s.actions {
		if action.code == code {
			fire = append(fire, action)
		} else {
			keep = append(keep, action)
		}
	}
	s.actions = keep
	s.mu.Unlock()

	for _, action := range fire {
		_ = s.Update(ctx, action.code, Patch{action.path: action.value})
	}
}

func (s *MemoryStore) Connectivity(_ context.Context) (<-chan bool, func(), error) {
	feed := make(chan bool, watchBuffer)

	s.connMu.Lock()
	feed <- s.connected
	s.connFeeds = append(s.connFeeds, feed)
	s.connMu.Unlock()

	release := func() {
		s.connMu.Lock()
		defer s.connMu.Unlock()
		for i, candidate := range s.connFeeds {
			if candidate == feed {
				s.connFeeds = append(s.connFeeds[:i], s.connFeeds[i+1:]...)
				return
			}
		}
	}
	return feed, release, nil
}

// SetConnected flips the reachability signal delivered to connectivity
// subscribers. Tests use it to simulate transport loss.
func (s *MemoryStore) SetConnected(connected bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connected = connected
	for _, feed := range s.connFeeds {
		push(feed, connected)
	}
}

func notify(watchers []*watcher, snapshot *Room) {
	for _, w := range watchers {
		push(w.ch, snapshot)
	}
}

// push delivers without blocking; when the buffer is full the oldest
// snapshot is dropped, keeping the latest state flowing.
func push[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
