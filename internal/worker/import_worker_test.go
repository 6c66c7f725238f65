package worker

import (
	"context"
	"log/slog"
	"testing"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/matcher"
	"fintrack/internal/services"
	"fintrack/internal/statement"
	"fintrack/internal/store/memory"
)

const testUser = "user-1"

const statementSample = `2025-01-15,"LCBO/RAO #0520",102.15,,4500********1234
2025-01-08,"PAYMENT THANK YOU",,550.00,4500********1234
`

type captureExporter struct {
	appended []core.Transaction
	calls    int
}

func (e *captureExporter) AppendTransactions(ctx context.Context, txns []core.Transaction) error {
	e.calls++
	e.appended = append(e.appended, txns...)
	return nil
}

func newWorkerFixture(t *testing.T) (*ImportWorker, *services.ImportService, *captureExporter, *memory.Store) {
	t.Helper()
	st := memory.New()
	if err := st.CreateAccount(context.Background(), core.Account{
		ID:       "acc-1",
		UserID:   testUser,
		Name:     "Credit Card",
		Currency: "CAD",
		Status:   core.AccountActive,
	}); err != nil {
		t.Fatal(err)
	}
	logger := log.New(log.Config{Level: slog.LevelError})
	importer := services.NewImportService(st, statement.DefaultRegistry(), matcher.New(st), nil, logger)
	exp := &captureExporter{}
	return NewImportWorker(st, importer, exp, logger), importer, exp, st
}

func stageBatch(t *testing.T, importer *services.ImportService) *core.ImportBatch {
	t.Helper()
	batch, err := importer.CreateBatch(context.Background(), testUser, "acc-1", "jan.csv", statementSample, "")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return batch
}

func TestStagedEventProcessesBatch(t *testing.T) {
	w, importer, _, _ := newWorkerFixture(t)
	ctx := context.Background()
	batch := stageBatch(t, importer)

	msg := amqp.NewBatchEventMessage(amqp.EventBatchStaged, batch.ID, testUser)
	if err := w.HandleBatchEvent(ctx, msg); err != nil {
		t.Fatalf("handle staged event: %v", err)
	}

	got, _, err := importer.GetBatch(ctx, testUser, batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.BatchProcessed {
		t.Errorf("batch status = %s, want processed", got.Status)
	}
}

func TestStagedEventRedeliveryIsHarmless(t *testing.T) {
	w, importer, _, _ := newWorkerFixture(t)
	ctx := context.Background()
	batch := stageBatch(t, importer)

	msg := amqp.NewBatchEventMessage(amqp.EventBatchStaged, batch.ID, testUser)
	if err := w.HandleBatchEvent(ctx, msg); err != nil {
		t.Fatal(err)
	}
	// Redelivery finds the batch past pending: swallowed, not requeued.
	if err := w.HandleBatchEvent(ctx, msg); err != nil {
		t.Errorf("redelivered staged event returned error: %v", err)
	}
}

func TestConfirmedEventExportsTransactions(t *testing.T) {
	w, importer, exp, _ := newWorkerFixture(t)
	ctx := context.Background()
	batch := stageBatch(t, importer)

	if _, err := importer.ProcessBatch(ctx, testUser, batch.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := importer.ConfirmBatch(ctx, testUser, batch.ID, nil); err != nil {
		t.Fatal(err)
	}

	msg := amqp.NewBatchEventMessage(amqp.EventBatchConfirmed, batch.ID, testUser)
	if err := w.HandleBatchEvent(ctx, msg); err != nil {
		t.Fatalf("handle confirmed event: %v", err)
	}

	if exp.calls != 1 {
		t.Fatalf("exporter called %d times, want 1", exp.calls)
	}
	if len(exp.appended) != 2 {
		t.Fatalf("exported %d transactions, want 2", len(exp.appended))
	}
	for _, tx := range exp.appended {
		if tx.ImportBatchID != batch.ID {
			t.Errorf("exported transaction %s from wrong batch", tx.ID)
		}
	}
}

func TestExportDisabledIsNoop(t *testing.T) {
	_, importer, _, st := newWorkerFixture(t)
	w := NewImportWorker(st, importer, nil, log.New(log.Config{Level: slog.LevelError}))
	ctx := context.Background()
	batch := stageBatch(t, importer)

	msg := amqp.NewBatchEventMessage(amqp.EventBatchConfirmed, batch.ID, testUser)
	if err := w.HandleBatchEvent(ctx, msg); err != nil {
		t.Errorf("nil exporter should be a no-op, got %v", err)
	}
}

func TestProcessedAndUnknownEventsIgnored(t *testing.T) {
	w, importer, exp, _ := newWorkerFixture(t)
	ctx := context.Background()
	batch := stageBatch(t, importer)

	for _, event := range []string{amqp.EventBatchProcessed, "batch.mystery"} {
		msg := amqp.NewBatchEventMessage(event, batch.ID, testUser)
		if err := w.HandleBatchEvent(ctx, msg); err != nil {
			t.Errorf("event %s returned error: %v", event, err)
		}
	}
	if exp.calls != 0 {
		t.Errorf("exporter called %d times, want 0", exp.calls)
	}
}

func TestSweepProcessesPendingBatches(t *testing.T) {
	w, importer, _, _ := newWorkerFixture(t)
	ctx := context.Background()
	first := stageBatch(t, importer)
	second := stageBatch(t, importer)

	if err := w.Sweep(ctx, testUser); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	for _, id := range []string{first.ID, second.ID} {
		batch, _, err := importer.GetBatch(ctx, testUser, id)
		if err != nil {
			t.Fatal(err)
		}
		if batch.Status != core.BatchProcessed {
			t.Errorf("batch %s status = %s, want processed", id, batch.Status)
		}
	}
}
