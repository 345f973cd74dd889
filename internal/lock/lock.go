package lock

import (
	"context"
	"fmt"
	"time"
)

// Locker is the single cross-instance coordination primitive. Acquire is an
// atomic "set if absent with TTL": it returns true only for the one caller
// that created the key. Release is idempotent and used only on specific
// failure paths; on the success path the TTL is the release.
type Locker interface {
	// Acquire attempts to claim key for ttl. True iff this call created the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release deletes the key. Releasing an absent key is not an error.
	Release(ctx context.Context, key string) error

	// Exists reports whether the key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies connectivity to the lock backend.
	Ping(ctx context.Context) error
}

// ExecutionKey builds the deduplication key for one (schedule, fire instant)
// pair. It is deterministic, so every instance racing on the same instant
// computes the same key.
func ExecutionKey(scheduleID string, fireTime time.Time) string {
	return fmt.Sprintf("execution:%s:%d", scheduleID, fireTime.UnixMilli())
}
