package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Lock backends selectable via lock.backend.
const (
	LockBackendRedis  = "redis"
	LockBackendNATS   = "nats"
	LockBackendMemory = "memory"
)

// Config is the process configuration, loaded from config.yaml with
// SCHEDULER_* environment overrides.
type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Lock struct {
		Backend  string `mapstructure:"backend"`
		RedisURL string `mapstructure:"redis_url"`
		NATSURL  string `mapstructure:"nats_url"`
	} `mapstructure:"lock"`

	Scheduler struct {
		TickInterval time.Duration `mapstructure:"tick_interval"`
		LockTTL      time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"scheduler"`
}

// Load reads configuration from configPath. A missing config file is not an
// error; defaults and environment variables apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("SCHEDULER")
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "scheduler.db")
	v.SetDefault("lock.backend", LockBackendRedis)
	v.SetDefault("lock.redis_url", "redis://localhost:6379/0")
	v.SetDefault("lock.nats_url", "nats://localhost:4222")
	v.SetDefault("scheduler.tick_interval", time.Second)
	v.SetDefault("scheduler.lock_ttl", 30*time.Second)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	switch cfg.Lock.Backend {
	case LockBackendRedis, LockBackendNATS, LockBackendMemory:
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
	return &cfg, nil
}
