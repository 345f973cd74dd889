package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/t77yq/agent-scheduler/internal/config"
	"github.com/t77yq/agent-scheduler/internal/storage"
)

// One-shot schema migration: open the database, apply the schema, exit.
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

	if err := storage.Migrate(context.Background(), db); err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}

	logger.Info("Database migrations completed", zap.String("path", cfg.Database.Path))
}
