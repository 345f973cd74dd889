package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "scheduler.db", cfg.Database.Path)
	assert.Equal(t, LockBackendRedis, cfg.Lock.Backend)
	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.LockTTL)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
server:
  port: 9090
lock:
  backend: nats
  nats_url: nats://broker:4222
scheduler:
  tick_interval: 2s
  lock_ttl: 45s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, LockBackendNATS, cfg.Lock.Backend)
	assert.Equal(t, "nats://broker:4222", cfg.Lock.NATSURL)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.LockTTL)
}

func TestLoadRejectsUnknownLockBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("lock:\n  backend: zookeeper\n"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}
