package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	lockBucketName = "execution-locks"

	// lockBucketTTL garbage-collects stale entries server-side. It only needs
	// to exceed the largest lock TTL handed to Acquire; logical expiry is
	// tracked per key in the entry value.
	lockBucketTTL = 10 * time.Minute
)

// NATSLocker implements Locker on a JetStream key-value bucket. The atomic
// kv.Create is the claim: exactly one instance creates a given key. Each
// entry's value carries its logical expiry, and an expired holder is replaced
// with a revision-checked update so a crashed claimant cannot wedge a key for
// the whole bucket TTL.
type NATSLocker struct {
	logger *zap.Logger
	kv     nats.KeyValue
}

// NewNATSLocker creates the lock bucket if needed and returns a locker.
func NewNATSLocker(js nats.JetStreamContext, logger *zap.Logger) (*NATSLocker, error) {
	kv, err := js.KeyValue(lockBucketName)
	if err != nil {
		if !errors.Is(err, nats.ErrBucketNotFound) {
			return nil, fmt.Errorf("failed to look up lock bucket: %w", err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  lockBucketName,
			TTL:     lockBucketTTL,
			History: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create lock bucket: %w", err)
		}
		logger.Info("Created lock bucket", zap.String("bucket", lockBucketName))
	}

	return &NATSLocker{logger: logger.Named("nats-lock"), kv: kv}, nil
}

// Acquire implements Locker.Acquire.
func (l *NATSLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	kvKey := kvSafeKey(key)
	value := []byte(strconv.FormatInt(time.Now().Add(ttl).UnixMilli(), 10))

	_, err := l.kv.Create(kvKey, value)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, nats.ErrKeyExists) {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	// Key exists. Steal it only if the holder's logical TTL has lapsed.
	entry, err := l.kv.Get(kvKey)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			// Holder vanished between Create and Get; treat as contention.
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect lock %s: %w", key, err)
	}
	if !entryExpired(entry) {
		return false, nil
	}

	// Revision-checked update: loses cleanly if another instance steals first.
	if _, err := l.kv.Update(kvKey, value, entry.Revision()); err != nil {
		return false, nil
	}
	return true, nil
}

// Release implements Locker.Release.
func (l *NATSLocker) Release(_ context.Context, key string) error {
	err := l.kv.Delete(kvSafeKey(key))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// Exists implements Locker.Exists.
func (l *NATSLocker) Exists(_ context.Context, key string) (bool, error) {
	entry, err := l.kv.Get(kvSafeKey(key))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check lock %s: %w", key, err)
	}
	return !entryExpired(entry), nil
}

// Ping implements Locker.Ping.
func (l *NATSLocker) Ping(context.Context) error {
	if _, err := l.kv.Status(); err != nil {
		return fmt.Errorf("lock bucket unavailable: %w", err)
	}
	return nil
}

// entryExpired parses the logical expiry stored in the entry value. An
// unparseable value counts as expired so a corrupt entry cannot hold the key.
func entryExpired(entry nats.KeyValueEntry) bool {
	expiryMillis, err := strconv.ParseInt(string(entry.Value()), 10, 64)
	if err != nil {
		return true
	}
	return time.Now().UnixMilli() >= expiryMillis
}

// kvSafeKey maps lock keys onto the KV key alphabet (':' is not permitted).
func kvSafeKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}
