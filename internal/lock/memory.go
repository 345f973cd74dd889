package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker. It provides the same single-claim
// semantics within one process and backs single-node deployments and tests.
type MemoryLocker struct {
	mu     sync.Mutex
	expiry map[string]time.Time
}

// NewMemoryLocker creates an in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{expiry: make(map[string]time.Time)}
}

// Acquire implements Locker.Acquire.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if exp, ok := l.expiry[key]; ok && exp.After(now) {
		return false, nil
	}
	l.expiry[key] = now.Add(ttl)
	return true, nil
}

// Release implements Locker.Release.
func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.expiry, key)
	return nil
}

// Exists implements Locker.Exists.
func (l *MemoryLocker) Exists(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exp, ok := l.expiry[key]
	if !ok {
		return false, nil
	}
	if !exp.After(time.Now()) {
		delete(l.expiry, key)
		return false, nil
	}
	return true, nil
}

// Ping implements Locker.Ping.
func (l *MemoryLocker) Ping(context.Context) error { return nil }
