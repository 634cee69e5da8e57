package bot

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSessionStore_PruneIdle(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(clock)

	store.Start(domain.PartyID(alice), "alice")
	clock.Advance(20 * time.Hour)
	store.Start(domain.PartyID(bob), "bob")
	clock.Advance(3 * time.Hour)

	// Activity resets the idle clock.
	_, ok := store.Get(domain.PartyID(alice))
	require.True(t, ok)
	clock.Advance(2 * time.Hour)

	assert.Equal(t, 0, store.PruneIdle(24*time.Hour))
	assert.Equal(t, 2, store.Len())

	clock.Advance(20 * time.Hour)
	// bob: 25h idle, alice: 22h.
	assert.Equal(t, 1, store.PruneIdle(24*time.Hour))
	_, ok = store.Get(domain.PartyID(bob))
	assert.False(t, ok)
	_, ok = store.Get(domain.PartyID(alice))
	assert.True(t, ok)
}

func TestSessionStore_AbandonedSessionsDoNotAccumulate(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(clock)
	for i := range 500 {
		store.Start(domain.PartyID(10_000+i), "")
	}
	require.Equal(t, 500, store.Len())

	clock.Advance(24*time.Hour + time.Second)
	assert.Equal(t, 500, store.PruneIdle(24*time.Hour))
	assert.Zero(t, store.Len())
}
