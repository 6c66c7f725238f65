// Package worker processes import batch events in the background: it
// enriches freshly staged batches and mirrors completed ones to the
// export sheet.
package worker

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/export"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/store"
)

// ImportWorker consumes batch lifecycle events. All handlers are
// idempotent: the import service skips rows already processed or
// confirmed, so redelivered messages are harmless.
type ImportWorker struct {
	store    store.Store
	importer *services.ImportService
	exporter export.LedgerWriter
	logger   *log.Logger
}

func NewImportWorker(st store.Store, importer *services.ImportService, exporter export.LedgerWriter, logger *log.Logger) *ImportWorker {
	return &ImportWorker{
		store:    st,
		importer: importer,
		exporter: exporter,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleBatchEvent dispatches one AMQP message.
func (w *ImportWorker) HandleBatchEvent(ctx context.Context, msg *amqp.BatchEventMessage) error {
	w.logger.InfoContext(ctx, "Processing batch event",
		"event", msg.Event,
		"batch_id", msg.BatchID)

	switch msg.Event {
	case amqp.EventBatchStaged:
		return w.processStaged(ctx, msg.UserID, msg.BatchID)
	case amqp.EventBatchConfirmed:
		return w.exportBatch(ctx, msg.UserID, msg.BatchID)
	case amqp.EventBatchProcessed:
		// Processed batches wait for user confirmation.
		return nil
	default:
		w.logger.WarnContext(ctx, "Unknown batch event", "event", msg.Event)
		return nil
	}
}

func (w *ImportWorker) processStaged(ctx context.Context, userID, batchID string) error {
	_, err := w.importer.ProcessBatch(ctx, userID, batchID, false)
	if err != nil {
		// A batch the user already processed or confirmed is not a failure.
		if errors.Is(err, core.ErrBatchState) {
			w.logger.InfoContext(ctx, "Batch already past staging", "batch_id", batchID)
			return nil
		}
		return fmt.Errorf("process batch %s: %w", batchID, err)
	}
	return nil
}

// exportBatch mirrors every transaction committed from the batch to the
// export sheet.
func (w *ImportWorker) exportBatch(ctx context.Context, userID, batchID string) error {
	if w.exporter == nil {
		w.logger.InfoContext(ctx, "Export disabled, skipping", "batch_id", batchID)
		return nil
	}

	batch, err := w.store.GetBatch(ctx, userID, batchID)
	if err != nil {
		return err
	}
	rows, err := w.store.ListRawTransactions(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("list raw rows: %w", err)
	}

	var txns []core.Transaction
	for _, row := range rows {
		if row.TransactionID == "" {
			continue
		}
		t, err := w.store.GetTransaction(ctx, userID, row.TransactionID)
		if err != nil {
			if errors.Is(err, core.ErrTransactionNotFound) {
				continue
			}
			return err
		}
		txns = append(txns, *t)
	}

	if err := w.exporter.AppendTransactions(ctx, txns); err != nil {
		return fmt.Errorf("export batch %s: %w", batchID, err)
	}

	w.logger.InfoContext(ctx, "Batch exported",
		"batch_id", batchID,
		"transactions", len(txns))
	return nil
}

// Sweep picks up pending batches whose staged event was lost and runs
// them through processing. Safe to call on a timer.
func (w *ImportWorker) Sweep(ctx context.Context, userID string) error {
	batches, err := w.store.ListBatches(ctx, userID, store.BatchFilter{Status: core.BatchPending})
	if err != nil {
		return fmt.Errorf("list pending batches: %w", err)
	}

	for _, b := range batches {
		if err := w.processStaged(ctx, userID, b.ID); err != nil {
			w.logger.ErrorContext(ctx, "Sweep failed for batch",
				"batch_id", b.ID,
				"error", err)
		}
	}

	if len(batches) > 0 {
		w.logger.InfoContext(ctx, "Sweep finished", "batches", len(batches))
	}
	return nil
}
