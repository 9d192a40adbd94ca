package eventsub

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// replayWindow matches the server's delivery window: a message id can only
// be redelivered within roughly ten minutes of the original.
const replayWindow = 600 * time.Second

// seenCache is a time-bounded duplicate-id cache. Entries older than the
// replay window are evicted on access, keeping memory bounded for
// long-lived connections.
type seenCache struct {
	clock   clockwork.Clock
	window  time.Duration
	entries map[string]time.Time
}

func newSeenCache(clock clockwork.Clock) *seenCache {
	return &seenCache{
		clock:   clock,
		window:  replayWindow,
		entries: make(map[string]time.Time),
	}
}

// Seen reports whether id was already recorded within the replay window,
// inserting it if not.
func (s *seenCache) Seen(id string) bool {
	now := s.clock.Now()
	s.evict(now)

	if _, ok := s.entries[id]; ok {
		return true
	}
	s.entries[id] = now
	return false
}

func (s *seenCache) evict(now time.Time) {
	for id, at := range s.entries {
		if now.Sub(at) > s.window {
			delete(s.entries, id)
		}
	}
}

// Reset drops all recorded ids. Called when a new connection generation
// starts a fresh delivery window.
func (s *seenCache) Reset() {
	clear(s.entries)
}
