package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/agent-scheduler/internal/testutil"
)

func TestNATSLocker(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	logger := zaptest.NewLogger(t)
	locker, err := NewNATSLocker(js, logger)
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("CreateWins", func(t *testing.T) {
		key := ExecutionKey("sched-a", time.UnixMilli(1000))

		ok, err := locker.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = locker.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("BucketSurvivesReconnect", func(t *testing.T) {
		// A second locker against the same bucket sees existing claims.
		other, err := NewNATSLocker(js, logger)
		require.NoError(t, err)

		key := ExecutionKey("sched-b", time.UnixMilli(2000))

		ok, err := locker.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = other.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("StealAfterLogicalExpiry", func(t *testing.T) {
		key := ExecutionKey("sched-c", time.UnixMilli(3000))

		ok, err := locker.Acquire(ctx, key, 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(30 * time.Millisecond)

		ok, err = locker.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ReleaseThenReacquire", func(t *testing.T) {
		key := ExecutionKey("sched-d", time.UnixMilli(4000))

		ok, err := locker.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, locker.Release(ctx, key))
		require.NoError(t, locker.Release(ctx, key))

		ok, err = locker.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Exists", func(t *testing.T) {
		key := ExecutionKey("sched-e", time.UnixMilli(5000))

		exists, err := locker.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = locker.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)

		exists, err = locker.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, locker.Ping(ctx))
	})

	t.Run("ConcurrentAcquireYieldsOneWinner", func(t *testing.T) {
		key := ExecutionKey("sched-f", time.UnixMilli(6000))

		const contenders = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0

		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := locker.Acquire(ctx, key, time.Minute)
				require.NoError(t, err)
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
	})
}
