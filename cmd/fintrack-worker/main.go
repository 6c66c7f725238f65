package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/amqp"
	"fintrack/internal/config"
	"fintrack/internal/export"
	applog "fintrack/internal/log"
	"fintrack/internal/matcher"
	"fintrack/internal/services"
	"fintrack/internal/statement"
	"fintrack/internal/storage"
	"fintrack/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: applog.ComponentWorker,
	})
	applog.SetDefault(logger)

	logger.Info("Starting fintrack-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// The worker always runs against SQLite; the memory backend is
	// process-local and has nothing to share with the app binary.
	st, err := storage.NewSQLiteStore(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var exporter export.LedgerWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := export.NewGoogleSheetsClient(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		exporter = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
	} else {
		logger.Info("AMQP disabled - running sweep loop only")
	}

	registry := statement.DefaultRegistry()
	m := matcher.New(st)

	var events services.BatchEventPublisher
	if amqpClient != nil {
		events = amqpClient
	}
	importSvc := services.NewImportService(st, registry, m, events, logger)
	w := worker.NewImportWorker(st, importSvc, exporter, logger)

	g, ctx := errgroup.WithContext(ctx)

	if amqpClient != nil {
		deliveries, err := amqpClient.Consume()
		if err != nil {
			logger.Error("Failed to start consuming", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return consumeLoop(ctx, w, deliveries, logger)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := w.Sweep(ctx, cfg.UserID); err != nil {
					logger.Error("Sweep failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shut down")
}

func consumeLoop(ctx context.Context, w *worker.ImportWorker, deliveries <-chan amqp091.Delivery, logger *applog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			msg, err := amqp.BatchEventMessageFromJSON(d.Body)
			if err != nil {
				logger.ErrorContext(ctx, "Malformed batch event", "error", err)
				_ = d.Nack(false, false)
				continue
			}
			if err := w.HandleBatchEvent(ctx, msg); err != nil {
				logger.ErrorContext(ctx, "Batch event handling failed",
					"event", msg.Event,
					"batch_id", msg.BatchID,
					"error", err)
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
