package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/agent-scheduler/internal/api"
	"github.com/t77yq/agent-scheduler/internal/config"
	"github.com/t77yq/agent-scheduler/internal/executor"
	"github.com/t77yq/agent-scheduler/internal/lock"
	"github.com/t77yq/agent-scheduler/internal/scheduler"
	"github.com/t77yq/agent-scheduler/internal/storage"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	schedules, err := storage.NewSQLiteScheduleStore(db, logger)
	if err != nil {
		logger.Fatal("Failed to create schedule store", zap.Error(err))
	}
	executions, err := storage.NewSQLiteExecutionStore(db, logger)
	if err != nil {
		logger.Fatal("Failed to create execution store", zap.Error(err))
	}

	locker, err := newLocker(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create lock service", zap.Error(err))
	}

	agentExecutor := executor.NewAgentExecutor(executions, logger)
	sched := scheduler.NewDistributedScheduler(schedules, executions, locker, agentExecutor, scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval,
		LockTTL:      cfg.Scheduler.LockTTL,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	apiServer := api.NewServer(schedules, executions, locker, db, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: apiServer.Handler(),
	}

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Stop claiming new work first; in-flight executions finish on their own.
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}

	logger.Info("Server shut down gracefully")
}

func newLocker(cfg *config.Config, logger *zap.Logger) (lock.Locker, error) {
	switch cfg.Lock.Backend {
	case config.LockBackendRedis:
		return lock.NewRedisLocker(cfg.Lock.RedisURL, logger)

	case config.LockBackendNATS:
		nc, err := nats.Connect(cfg.Lock.NATSURL,
			nats.Name("agent-scheduler"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.Timeout(5*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("NATS disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		js, err := nc.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		return lock.NewNATSLocker(js, logger)

	case config.LockBackendMemory:
		logger.Warn("Using in-memory lock service; multi-instance deployments require redis or nats")
		return lock.NewMemoryLocker(), nil

	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}
