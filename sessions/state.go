package sessions

import (
	"sync"

	"github.com/jrsteele09/go-auth-client/users"
)

// State holds the signed in user (nil when signed out) and broadcasts every
// change to subscribers. A new subscriber immediately receives the current
// value. Slow subscribers only ever see the latest value; intermediate
// transitions may be skipped but a stale value is never delivered after a newer one.
type State struct {
	mu      sync.Mutex
	current *users.Snapshot
	subs    map[int]chan *users.Snapshot
	nextID  int
}

func NewState() *State {
	return &State{
		subs: make(map[int]chan *users.Snapshot),
	}
}

// Current returns a copy of the current user, nil when signed out.
func (s *State) Current() *users.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Set replaces the current user and notifies every subscriber.
func (s *State) Set(user *users.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = user.Clone()
	for _, ch := range s.subs {
		offerLatest(ch, s.current.Clone())
	}
}

// Subscribe returns a channel carrying the current user followed by every
// change. The returned func unsubscribes and closes the channel.
func (s *State) Subscribe() (<-chan *users.Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan *users.Snapshot, 1)
	ch <- s.current.Clone()
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// Subscribers reports the number of active subscriptions.
func (s *State) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// offerLatest replaces any undelivered value with v. Callers hold s.mu, which
// makes this the only sender on ch.
func offerLatest(ch chan *users.Snapshot, v *users.Snapshot) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
