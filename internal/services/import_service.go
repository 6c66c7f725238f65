// Package services drives the import batch lifecycle and the
// user-facing rule, transaction and account operations. Every state
// transition that touches rows, transactions and balances commits as
// one storage transaction.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/matcher"
	"fintrack/internal/statement"
	"fintrack/internal/store"
)

// BatchEventPublisher emits batch lifecycle events. A nil publisher
// disables eventing; publish failures are logged, never fatal.
type BatchEventPublisher interface {
	PublishBatchEvent(ctx context.Context, event, batchID, userID string) error
}

// Re-exported event names so callers don't import the amqp package.
const (
	EventBatchStaged    = "batch.staged"
	EventBatchProcessed = "batch.processed"
	EventBatchConfirmed = "batch.confirmed"
)

// ImportService owns the ImportBatch state machine:
// pending → processed → completed, with error reachable from any state.
type ImportService struct {
	store    store.Store
	registry *statement.Registry
	matcher  *matcher.Matcher
	events   BatchEventPublisher
	logger   *log.Logger
}

func NewImportService(st store.Store, registry *statement.Registry, m *matcher.Matcher, events BatchEventPublisher, logger *log.Logger) *ImportService {
	return &ImportService{
		store:    st,
		registry: registry,
		matcher:  m,
		events:   events,
		logger:   logger.WithComponent(log.ComponentImport),
	}
}

// CreateBatch stages a statement upload. An explicit format hint wins
// over detection. A file-level failure (unresolved format, unreadable
// content) still creates the batch, at status error with no rows;
// row-level failures are recorded on those rows only.
func (s *ImportService) CreateBatch(ctx context.Context, userID, accountID, fileName, content, formatHint string) (*core.ImportBatch, error) {
	if _, err := s.store.GetAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}

	batch := core.ImportBatch{
		ID:        uuid.NewString(),
		UserID:    userID,
		AccountID: accountID,
		FileName:  fileName,
		// File content is kept verbatim so processing can re-parse it.
		FileContent: content,
		Status:      core.BatchPending,
		CreatedAt:   time.Now().UTC(),
	}

	format := formatHint
	var parser statement.Parser
	var err error
	if format == "" {
		format, err = s.registry.Detect(content)
	}
	if err == nil {
		parser, err = s.registry.Get(format)
	}
	batch.StatementFormat = format

	var parsed []statement.Row
	if err == nil {
		parsed, err = parser.Parse(content)
	}
	if err != nil {
		batch.Status = core.BatchError
		batch.ErrorMessage = err.Error()
		if storeErr := s.store.CreateBatch(ctx, batch); storeErr != nil {
			return nil, fmt.Errorf("create batch: %w", storeErr)
		}
		s.logger.WarnContext(ctx, "Batch staging failed",
			"batch_id", batch.ID,
			"file", fileName,
			"error", err)
		return &batch, err
	}

	rows := make([]core.RawTransaction, 0, len(parsed))
	good := 0
	for _, p := range parsed {
		row := core.RawTransaction{
			ID:            uuid.NewString(),
			ImportBatchID: batch.ID,
			RowNumber:     p.RowNumber,
			RawData:       encodeRawData(p.Raw),
			Status:        core.RowPending,
		}
		if p.Err != nil {
			row.Status = core.RowError
			row.ErrorMessage = p.Err.Error()
		} else {
			good++
		}
		rows = append(rows, row)
	}
	batch.ProcessedCount = good

	err = s.store.WithinTx(ctx, func(st store.Store) error {
		if err := st.CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		if err := st.CreateRawTransactions(ctx, rows); err != nil {
			return fmt.Errorf("create raw rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Batch staged",
		"batch_id", batch.ID,
		"account_id", accountID,
		"format", format,
		"rows", len(rows),
		"parsed", good)

	s.publish(ctx, EventBatchStaged, batch.ID, userID)
	return &batch, nil
}

// ProcessBatch enriches staged rows with canonical fields and a matched
// category. Valid only from pending or error. With autoCreate, each
// successfully processed row is committed immediately through the
// ledger. Row errors never abort the batch; batch-level precondition
// failures roll the transition back and leave the batch at error.
func (s *ImportService) ProcessBatch(ctx context.Context, userID, batchID string, autoCreate bool) (*core.ImportBatch, error) {
	batch, err := s.store.GetBatch(ctx, userID, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != core.BatchPending && batch.Status != core.BatchError {
		return nil, fmt.Errorf("%w: cannot process batch in status %q", core.ErrBatchState, batch.Status)
	}

	// Parsing and category matching read nothing that the write
	// transaction mutates, so they run up front.
	enriched, fatalErr := s.enrichRows(ctx, userID, batch)
	if fatalErr != nil {
		s.failBatch(ctx, *batch, fatalErr)
		return nil, fatalErr
	}

	var out *core.ImportBatch
	err = s.store.WithinTx(ctx, func(st store.Store) error {
		if _, err := st.GetAccount(ctx, userID, batch.AccountID); err != nil {
			return err
		}
		rows, err := st.ListRawTransactions(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("list raw rows: %w", err)
		}

		eng := ledger.New(st)
		processed := 0
		for _, row := range rows {
			// Idempotent re-entry: confirmed and skipped rows are untouched.
			if row.TransactionID != "" || row.Status == core.RowSkipped {
				if row.TransactionID != "" {
					processed++
				}
				continue
			}

			res, ok := enriched[row.RowNumber]
			if !ok {
				row.Status = core.RowError
				row.ErrorMessage = "row missing from re-parsed statement"
				if err := st.UpdateRawTransaction(ctx, row); err != nil {
					return fmt.Errorf("update raw row: %w", err)
				}
				continue
			}
			if res.err != nil {
				row.Status = core.RowError
				row.ErrorMessage = res.err.Error()
				if err := st.UpdateRawTransaction(ctx, row); err != nil {
					return fmt.Errorf("update raw row: %w", err)
				}
				continue
			}

			row.ProcessedData = res.data
			row.Status = core.RowProcessed
			row.ErrorMessage = ""

			if autoCreate {
				t, postErr := postRow(ctx, eng, userID, batch, row)
				if postErr != nil {
					row.Status = core.RowError
					row.ErrorMessage = postErr.Error()
					if err := st.UpdateRawTransaction(ctx, row); err != nil {
						return fmt.Errorf("update raw row: %w", err)
					}
					continue
				}
				row.TransactionID = t.ID
			}

			if err := st.UpdateRawTransaction(ctx, row); err != nil {
				return fmt.Errorf("update raw row: %w", err)
			}
			processed++
		}

		batch.Status = core.BatchProcessed
		batch.ProcessedCount = processed
		batch.ErrorMessage = ""
		if err := st.UpdateBatch(ctx, *batch); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}
		out = batch
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			s.failBatch(ctx, *batch, err)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "Batch processed",
		"batch_id", batch.ID,
		"processed", out.ProcessedCount,
		"auto_create", autoCreate)

	s.publish(ctx, EventBatchProcessed, batch.ID, userID)
	return out, nil
}

// ConfirmBatch commits selected processed rows through the ledger.
// Valid only from processed; a completed batch is a no-op. With no
// selection every confirmable row is committed. Rows already bearing a
// transaction id are skipped, never recommitted. The batch reaches
// completed only once every confirmable row has been confirmed.
func (s *ImportService) ConfirmBatch(ctx context.Context, userID, batchID string, selected []string) (*core.ImportBatch, error) {
	var out *core.ImportBatch
	err := s.store.WithinTx(ctx, func(st store.Store) error {
		batch, err := st.GetBatch(ctx, userID, batchID)
		if err != nil {
			return err
		}
		if batch.Status == core.BatchCompleted {
			out = batch
			return nil
		}
		if batch.Status != core.BatchProcessed {
			return fmt.Errorf("%w: cannot confirm batch in status %q", core.ErrBatchState, batch.Status)
		}
		if _, err := st.GetAccount(ctx, userID, batch.AccountID); err != nil {
			return err
		}

		rows, err := st.ListRawTransactions(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("list raw rows: %w", err)
		}

		var want map[string]bool
		if len(selected) > 0 {
			want = make(map[string]bool, len(selected))
			for _, id := range selected {
				want[id] = true
			}
		}

		eng := ledger.New(st)
		for i, row := range rows {
			if want != nil && !want[row.ID] {
				continue
			}
			if row.Status != core.RowProcessed || row.TransactionID != "" {
				continue
			}

			t, postErr := postRow(ctx, eng, userID, batch, row)
			if postErr != nil {
				row.Status = core.RowError
				row.ErrorMessage = postErr.Error()
				if err := st.UpdateRawTransaction(ctx, row); err != nil {
					return fmt.Errorf("update raw row: %w", err)
				}
				rows[i] = row
				continue
			}
			row.TransactionID = t.ID
			if err := st.UpdateRawTransaction(ctx, row); err != nil {
				return fmt.Errorf("update raw row: %w", err)
			}
			rows[i] = row
		}

		done := true
		for _, row := range rows {
			if row.Status == core.RowProcessed && row.TransactionID == "" {
				done = false
				break
			}
		}
		if done {
			batch.Status = core.BatchCompleted
		}
		if err := st.UpdateBatch(ctx, *batch); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}
		out = batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Batch confirmed",
		"batch_id", batchID,
		"status", out.Status)

	if out.Status == core.BatchCompleted {
		s.publish(ctx, EventBatchConfirmed, batchID, userID)
	}
	return out, nil
}

// SkipRows marks staged rows as skipped so they no longer block batch
// completion. Confirmed rows cannot be skipped.
func (s *ImportService) SkipRows(ctx context.Context, userID, batchID string, rowIDs []string) error {
	return s.store.WithinTx(ctx, func(st store.Store) error {
		batch, err := st.GetBatch(ctx, userID, batchID)
		if err != nil {
			return err
		}
		rows, err := st.ListRawTransactions(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("list raw rows: %w", err)
		}

		want := make(map[string]bool, len(rowIDs))
		for _, id := range rowIDs {
			want[id] = true
		}

		for _, row := range rows {
			if !want[row.ID] || row.TransactionID != "" || row.Status == core.RowSkipped {
				continue
			}
			row.Status = core.RowSkipped
			row.ErrorMessage = ""
			if err := st.UpdateRawTransaction(ctx, row); err != nil {
				return fmt.Errorf("update raw row: %w", err)
			}
		}
		return nil
	})
}

// GetBatch returns a batch and its staged rows.
func (s *ImportService) GetBatch(ctx context.Context, userID, batchID string) (*core.ImportBatch, []core.RawTransaction, error) {
	batch, err := s.store.GetBatch(ctx, userID, batchID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.store.ListRawTransactions(ctx, batch.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list raw rows: %w", err)
	}
	return batch, rows, nil
}

// ListBatches returns the user's batches, newest first.
func (s *ImportService) ListBatches(ctx context.Context, userID string, f store.BatchFilter) ([]core.ImportBatch, error) {
	return s.store.ListBatches(ctx, userID, f)
}

// DeleteBatch removes a batch and its staged rows. Transactions already
// committed from the batch survive with their provenance links cleared.
func (s *ImportService) DeleteBatch(ctx context.Context, userID, batchID string) error {
	return s.store.DeleteBatch(ctx, userID, batchID)
}

type enrichedRow struct {
	data *core.ProcessedRow
	err  error
}

// enrichRows re-parses the stored file content and runs the category
// matcher over every row. Keyed by row number, which is stable between
// staging and processing because the content is stored verbatim.
func (s *ImportService) enrichRows(ctx context.Context, userID string, batch *core.ImportBatch) (map[int]enrichedRow, error) {
	parser, err := s.registry.Get(batch.StatementFormat)
	if err != nil {
		return nil, err
	}
	parsed, err := parser.Parse(batch.FileContent)
	if err != nil {
		return nil, fmt.Errorf("parse statement: %w", err)
	}

	out := make(map[int]enrichedRow, len(parsed))
	for _, p := range parsed {
		if p.Err != nil {
			out[p.RowNumber] = enrichedRow{err: p.Err}
			continue
		}

		data := *p.Canonical
		categoryID, err := s.matcher.Match(ctx, userID, data.Description, data.Merchant)
		if err != nil {
			return nil, fmt.Errorf("match category: %w", err)
		}
		if categoryID == "" && p.CategoryHint != "" {
			// Parser hints are system-category tags; the matcher always
			// wins when it finds anything.
			categoryID = core.SystemCategoryID(p.CategoryHint)
		}
		data.CategoryID = categoryID
		out[p.RowNumber] = enrichedRow{data: &data}
	}
	return out, nil
}

// postRow commits one staged row through the ledger with import
// provenance attached.
func postRow(ctx context.Context, eng *ledger.Engine, userID string, batch *core.ImportBatch, row core.RawTransaction) (*core.Transaction, error) {
	data := row.ProcessedData
	if data == nil {
		return nil, errors.New("row has no processed data")
	}
	return eng.PostTransaction(ctx, userID, batch.AccountID, ledger.PostInput{
		TransactionDate:  data.TransactionDate,
		PostedDate:       data.PostedDate,
		Amount:           data.Amount,
		Currency:         data.Currency,
		Type:             data.Type,
		CategoryID:       data.CategoryID,
		Merchant:         data.Merchant,
		Description:      data.Description,
		ImportBatchID:    batch.ID,
		RawTransactionID: row.ID,
	})
}

// failBatch records a batch-fatal error. Best effort: the original
// error is what the caller sees.
func (s *ImportService) failBatch(ctx context.Context, batch core.ImportBatch, cause error) {
	batch.Status = core.BatchError
	batch.ErrorMessage = cause.Error()
	if err := s.store.UpdateBatch(ctx, batch); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record batch error",
			"batch_id", batch.ID,
			"error", err)
	}
}

func (s *ImportService) publish(ctx context.Context, event, batchID, userID string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishBatchEvent(ctx, event, batchID, userID); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish batch event",
			"event", event,
			"batch_id", batchID,
			"error", err)
	}
}

func encodeRawData(raw map[string]string) string {
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(b)
}
