// Package statestore provides the externally-consistent shared state used by
// orchestrator runs and the self-heal loop: worker heartbeats, fix-chain
// counters, and the swarm pause flag. All keys carry a TTL; expiry is the
// only deregistration path.
package statestore

import (
	"context"
	"time"
)

// Key layout and TTLs for shared state.
const (
	workerHealthPrefix = "worker:health:"
	fixChainPrefix     = "task:chain:"
	pausedKey          = "swarm:paused"

	// HeartbeatTTL bounds worker liveness. Workers republish well under
	// this; a missing key is the only offline signal.
	HeartbeatTTL = 90 * time.Second

	// FixChainTTL expires an inactive fix chain. Each increment resets it.
	FixChainTTL = 7 * 24 * time.Hour
)

// WorkerHealthKey returns the heartbeat key for a worker.
func WorkerHealthKey(workerID string) string {
	return workerHealthPrefix + workerID
}

// WorkerHealthPrefix returns the scan prefix for all heartbeat keys.
func WorkerHealthPrefix() string {
	return workerHealthPrefix
}

// FixChainKey returns the fix-chain counter key for an original task.
func FixChainKey(originalTaskID string) string {
	return fixChainPrefix + originalTaskID
}

// Store is the narrow surface swarmd needs from the shared state backend.
type Store interface {
	// SetWithTTL writes value under key, replacing any prior value and TTL.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key. The second return is false when the
	// key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Keys returns all live keys with the given prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// IncrWithTTL atomically increments the integer at key and resets its
	// TTL, returning the post-increment value. The increment must be
	// linearizable under concurrent callers.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// GetInt reads the integer at key; false when absent.
	GetInt(ctx context.Context, key string) (int64, bool, error)

	// Ping verifies the backend is reachable and reports round-trip latency.
	Ping(ctx context.Context) (time.Duration, error)

	Close() error
}

// IsPaused reports whether the swarm pause flag is set.
func IsPaused(ctx context.Context, s Store) (bool, error) {
	raw, ok, err := s.Get(ctx, pausedKey)
	if err != nil || !ok {
		return false, err
	}
	v := string(raw)
	return v == "1" || v == "true", nil
}

// SetPaused sets or clears the swarm pause flag. The flag carries no TTL
// semantics beyond a long expiry so a forgotten pause eventually clears.
func SetPaused(ctx context.Context, s Store, paused bool) error {
	if paused {
		return s.SetWithTTL(ctx, pausedKey, []byte("1"), 30*24*time.Hour)
	}
	return s.SetWithTTL(ctx, pausedKey, []byte("0"), time.Second)
}
