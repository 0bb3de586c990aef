package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"envelope/internal/config"
	"envelope/internal/events"
	"envelope/internal/export"
	gsheet "envelope/internal/export/google"
	mem "envelope/internal/export/memory"
	"envelope/internal/ledger"
	"envelope/internal/log"
	"envelope/internal/storage"
	"envelope/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.Config{
		Level:     slog.LevelInfo,
		Component: log.ComponentWorker,
	})
	slog.SetDefault(logger.Logger)

	logger.Info("Starting envelope-worker")

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

	// Summaries go to Google Sheets when configured, otherwise to an
	// in-memory store so the worker can run end to end locally.
	var writer export.SummaryWriter
	if cfg.GoogleSpreadsheetID != "" {
		sheetsClient, err := gsheet.NewClient(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		writer = sheetsClient
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	} else {
		writer = mem.New()
		logger.Info("Google Sheets disabled - exporting to in-memory store")
	}

	// The worker reads the ledger directly; it never publishes events.
	service := ledger.NewService(db, logger, nil, cfg.WriteTimeout)
	exportWorker := worker.NewExportWorker(service, writer, cfg.ExportBatchSize, cfg.ExportInterval)

	eventsClient, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer eventsClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Export the current month once on startup so a fresh worker does not
	// wait for the first change event.
	if err := exportWorker.StartupExport(ctx); err != nil {
		logger.Error("Startup export failed", "error", err)
		// Don't exit - continue with normal operation
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := eventsClient.ConsumeLedgerChanges(ctx, func(event ledger.ChangeEvent) error {
			return exportWorker.HandleChangeEvent(ctx, event)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		err := exportWorker.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	logger.Info("Worker running", "batch_size", cfg.ExportBatchSize, "interval", cfg.ExportInterval.String())

	if err := group.Wait(); err != nil {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
