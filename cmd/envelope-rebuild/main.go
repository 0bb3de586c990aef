package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"envelope/internal/config"
	"envelope/internal/ledger"
	"envelope/internal/log"
	"envelope/internal/storage"
)

// envelope-rebuild recomputes account balances and the category month
// cache from the version history, then exits. Run it after a crash or
// whenever a projection is suspect; the version history is the source
// of truth and rebuilding is always safe.
func main() {
	_ = godotenv.Load()

	logger := log.New(log.Config{
		Level:     slog.LevelInfo,
		Component: log.ComponentRebuild,
	})
	slog.SetDefault(logger.Logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open ledger database", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer db.Close()

	service := ledger.NewService(db, logger, nil, cfg.WriteTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := service.RebuildProjections(ctx); err != nil {
		logger.Error("Rebuild failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Rebuild complete", "duration", time.Since(start).String(), "db", cfg.SQLiteDBPath)
}
