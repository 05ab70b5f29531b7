package statestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, WorkerHealthKey("worker-1"), []byte(`{"status":"healthy"}`), HeartbeatTTL))

	clock.Advance(89 * time.Second)
	_, ok, err := store.Get(ctx, WorkerHealthKey("worker-1"))
	require.NoError(t, err)
	assert.True(t, ok, "heartbeat should still be live at T+89s")

	clock.Advance(2 * time.Second)
	_, ok, err = store.Get(ctx, WorkerHealthKey("worker-1"))
	require.NoError(t, err)
	assert.False(t, ok, "heartbeat should be expired at T+91s")
}

func TestMemoryStoreKeysSkipsExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, WorkerHealthKey("a"), []byte("x"), time.Minute))
	require.NoError(t, store.SetWithTTL(ctx, WorkerHealthKey("b"), []byte("x"), time.Hour))
	require.NoError(t, store.SetWithTTL(ctx, "unrelated:key", []byte("x"), time.Hour))

	clock.Advance(2 * time.Minute)
	keys, err := store.Keys(ctx, WorkerHealthPrefix())
	require.NoError(t, err)
	assert.Equal(t, []string{WorkerHealthKey("b")}, keys)
}

func TestMemoryStoreIncrSequence(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrWithTTL(ctx, FixChainKey("task-1"), FixChainTTL)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	v, ok, err := store.GetInt(ctx, FixChainKey("task-1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), v)
}

func TestMemoryStoreIncrConcurrentDistinct(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	const callers = 16
	results := make(chan int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.IncrWithTTL(ctx, FixChainKey("task-racy"), FixChainTTL)
			require.NoError(t, err)
			results <- v
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for v := range results {
		assert.False(t, seen[v], "duplicate post-increment value %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, callers)
}

func TestPauseFlag(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	paused, err := IsPaused(ctx, store)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, SetPaused(ctx, store, true))
	paused, err = IsPaused(ctx, store)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, SetPaused(ctx, store, false))
	paused, err = IsPaused(ctx, store)
	require.NoError(t, err)
	assert.False(t, paused)
}
