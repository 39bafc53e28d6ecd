package state

import (
	"context"
	"sync"
)

// Store serialises dispatches against one State and fans snapshots out to
// subscribers.
type Store struct {
	mu      sync.Mutex
	state   State
	nextSub int
	subs    map[int]chan State
}

// NewStore returns a Store holding Initial().
func NewStore() *Store {
	return &Store{state: Initial(), subs: make(map[int]chan State)}
}

// Dispatch reduces action into the current state and returns the result.
func (s *Store) Dispatch(action Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, action)
	for _, ch := range s.subs {
		offerLatest(ch, s.state)
	}
	return s.state
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe delivers the current state and then every later state until ctx
// is done, when the channel is closed. A slow reader only sees the latest
// state.
func (s *Store) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.state
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// offerLatest replaces any unread state in ch with next. Callers hold s.mu,
// the only sender.
func offerLatest(ch chan State, next State) {
	select {
	case <-ch:
	default:
	}
	ch <- next
}
