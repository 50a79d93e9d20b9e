package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumehq/plume/internal/config"
	"github.com/plumehq/plume/internal/thread"
)

func newTestStore(capacity int, ttl string) *Store {
	return NewStore(nil, config.SessionConfig{TTL: ttl, Capacity: capacity})
}

func TestGetOrCreateKeyContinuity(t *testing.T) {
	store := newTestStore(10, "24h")
	builderCalls := 0
	build := func() []thread.Turn {
		builderCalls++
		return []thread.Turn{{Speaker: thread.SpeakerOther, Text: "hi"}}
	}

	first, isNew := store.GetOrCreate("alice", "root1", build)
	require.True(t, isNew)
	assert.Equal(t, "alice-root1", first.ID)
	assert.Equal(t, 1, builderCalls)
	require.Len(t, first.Transcript, 1)

	// Same conversant, same thread: same session, builder not re-invoked.
	second, isNew := store.GetOrCreate("alice", "root1", build)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, builderCalls)

	// Same conversant, different thread: replaced, not added.
	third, isNew := store.GetOrCreate("alice", "root2", build)
	assert.True(t, isNew)
	assert.Equal(t, "alice-root2", third.ID)
	assert.Equal(t, 2, builderCalls)
	assert.Equal(t, 1, store.Len())
}

func TestGetOrCreateRefreshesActivity(t *testing.T) {
	store := newTestStore(10, "24h")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	created, _ := store.GetOrCreate("alice", "root1", nil)

	now = now.Add(time.Hour)
	refreshed, isNew := store.GetOrCreate("alice", "root1", nil)
	assert.False(t, isNew)
	assert.True(t, refreshed.LastActivity.After(created.LastActivity))
}

func TestSweepTTL(t *testing.T) {
	store := newTestStore(100, "24h")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.GetOrCreate("stale", "root", nil)
	now = now.Add(25 * time.Hour)
	store.GetOrCreate("fresh", "root", nil)

	store.Sweep()
	assert.Equal(t, 1, store.Len())
	_, isNew := store.GetOrCreate("fresh", "root", nil)
	assert.False(t, isNew, "fresh session must survive the sweep")
}

func TestSweepCapacityOldestFirst(t *testing.T) {
	const capacity = 5
	store := newTestStore(capacity, "24h")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	// Equal timestamps: insertion order decides which entry is oldest.
	for i := 0; i < capacity+1; i++ {
		store.GetOrCreate(fmt.Sprintf("user%d", i), "root", nil)
	}
	require.Equal(t, capacity+1, store.Len())

	store.Sweep()
	assert.Equal(t, capacity, store.Len())

	_, isNew := store.GetOrCreate("user0", "root", nil)
	assert.True(t, isNew, "first inserted entry is evicted on tie")
	store.Clear("user0")
	for i := 1; i < capacity+1; i++ {
		_, isNew := store.GetOrCreate(fmt.Sprintf("user%d", i), "root", nil)
		assert.False(t, isNew, "later entries survive")
	}
}

func TestClearAndEvictHook(t *testing.T) {
	store := newTestStore(10, "24h")
	var evicted []string
	store.SetEvictHook(func(sessionID string) { evicted = append(evicted, sessionID) })

	store.GetOrCreate("alice", "root1", nil)
	store.Clear("alice")
	assert.Equal(t, []string{"alice-root1"}, evicted)
	assert.Zero(t, store.Len())

	// Replacing a session with a new thread root also fires the hook.
	store.GetOrCreate("alice", "root1", nil)
	store.GetOrCreate("alice", "root2", nil)
	assert.Equal(t, []string{"alice-root1", "alice-root1"}, evicted)
}
