package dispatch

import (
	"sync"
	"time"
)

// seenSet remembers webhook event ids for a fixed window.
type seenSet struct {
	mu     sync.Mutex
	window time.Duration
	ids    map[string]time.Time
	sweep  time.Time
}

func newSeenSet(window time.Duration) *seenSet {
	return &seenSet{window: window, ids: make(map[string]time.Time)}
}

// add records id at now and reports whether it was new within the window.
func (s *seenSet) add(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.sweep) >= s.window {
		for k, at := range s.ids {
			if now.Sub(at) >= s.window {
				delete(s.ids, k)
			}
		}
		s.sweep = now
	}

	if at, ok := s.ids[id]; ok && now.Sub(at) < s.window {
		return false
	}
	s.ids[id] = now
	return true
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// userLocks chains tasks per user: each ticket waits for the previous
// ticket of the same user to be released.
type userLocks struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

type ticket struct {
	prev    <-chan struct{}
	release func()
}

func newUserLocks() *userLocks {
	return &userLocks{tails: make(map[string]chan struct{})}
}

func (l *userLocks) enqueue(userID string) *ticket {
	mine := make(chan struct{})

	l.mu.Lock()
	prev := l.tails[userID]
	l.tails[userID] = mine
	l.mu.Unlock()

	var once sync.Once
	return &ticket{
		prev: prev,
		release: func() {
			once.Do(func() {
				close(mine)
				l.mu.Lock()
				if l.tails[userID] == mine {
					delete(l.tails, userID)
				}
				l.mu.Unlock()
			})
		},
	}
}

func (t *ticket) wait() {
	if t.prev != nil {
		<-t.prev
	}
}

func (l *userLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tails)
}
