package eventsub

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestSeenCache_DetectsDuplicateWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := newSeenCache(clock)

	assert.False(t, cache.Seen("m1"))
	assert.True(t, cache.Seen("m1"))

	clock.Advance(replayWindow - time.Second)
	assert.True(t, cache.Seen("m1"))
}

func TestSeenCache_EvictsExpiredEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := newSeenCache(clock)

	assert.False(t, cache.Seen("m1"))

	clock.Advance(replayWindow + time.Second)
	assert.False(t, cache.Seen("m1"))
	assert.Len(t, cache.entries, 1)
}

func TestSeenCache_ResetDropsEverything(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := newSeenCache(clock)

	assert.False(t, cache.Seen("m1"))
	assert.False(t, cache.Seen("m2"))

	cache.Reset()
	assert.False(t, cache.Seen("m1"))
	assert.False(t, cache.Seen("m2"))
}
