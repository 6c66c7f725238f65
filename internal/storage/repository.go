// Package storage is the SQLite backend for the store ports. Decimal
// amounts travel as TEXT to keep them exact; dates as RFC 3339 strings.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements store.Store over a single database file.
// Inside WithinTx all calls go through the open *sql.Tx; _txlock=immediate
// makes write transactions take the lock up front, which is what
// serializes concurrent balance mutations.
type SQLiteStore struct {
	db   *sql.DB
	q    querier
	inTx bool
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.q = db

	if err := s.seedSystemCategories(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed system categories: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil && !s.inTx {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) seedSystemCategories(ctx context.Context) error {
	for _, c := range core.SystemCategories() {
		_, err := s.q.ExecContext(ctx, `
			INSERT OR IGNORE INTO categories (id, user_id, name, parent_id, is_system, system_category)
			VALUES (?, '', ?, ?, 1, ?)`,
			c.ID, c.Name, nullStr(c.ParentID), c.SystemCategory)
		if err != nil {
			return err
		}
	}
	return nil
}

// WithinTx runs fn inside one database transaction. A nested call joins
// the transaction already in progress.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &SQLiteStore{db: s.db, q: tx, inTx: true}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- accounts ---

func (s *SQLiteStore) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, name, currency, balance, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Currency, a.Balance.String(), string(a.Status))
	return err
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID, accountID string) (*core.Account, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, user_id, name, currency, balance, status
		FROM accounts WHERE id = ? AND user_id = ?`, accountID, userID)

	var a core.Account
	var balance, status string
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Currency, &balance, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	a.Balance = b
	a.Status = core.AccountStatus(status)
	return &a, nil
}

func (s *SQLiteStore) UpdateAccountBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`, balance.String(), accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrAccountNotFound
	}
	return nil
}

// --- categories ---

func (s *SQLiteStore) CreateCategory(ctx context.Context, c core.Category) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (id, user_id, name, parent_id, is_system, system_category)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, nullStr(c.ParentID), boolInt(c.IsSystem), c.SystemCategory)
	return err
}

func (s *SQLiteStore) GetCategory(ctx context.Context, id string) (*core.Category, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, user_id, name, parent_id, is_system, system_category
		FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("scan category: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListSystemCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, name, parent_id, is_system, system_category
		FROM categories WHERE is_system = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrCategoryNotFound
	}
	return nil
}

func (s *SQLiteStore) CountChildCategories(ctx context.Context, id string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE parent_id = ?`, id).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CountTransactionsByCategory(ctx context.Context, id string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE category_id = ?`, id).Scan(&n)
	return n, err
}

func scanCategory(scan func(...any) error) (*core.Category, error) {
	var c core.Category
	var parentID, systemCategory sql.NullString
	var isSystem int
	if err := scan(&c.ID, &c.UserID, &c.Name, &parentID, &isSystem, &systemCategory); err != nil {
		return nil, err
	}
	c.ParentID = parentID.String
	c.IsSystem = isSystem != 0
	c.SystemCategory = systemCategory.String
	return &c, nil
}

// --- category rules ---

func (s *SQLiteStore) CreateRule(ctx context.Context, r core.CategoryRule) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO category_rules (id, user_id, category_id, field, pattern, match_type, priority, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.CategoryID, string(r.Field), r.Pattern, string(r.MatchType), r.Priority, boolInt(r.IsActive))
	return err
}

func (s *SQLiteStore) GetRule(ctx context.Context, userID, id string) (*core.CategoryRule, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, user_id, category_id, field, pattern, match_type, priority, is_active
		FROM category_rules WHERE id = ? AND user_id = ?`, id, userID)
	r, err := scanRule(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrRuleNotFound
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRule(ctx context.Context, r core.CategoryRule) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE category_rules
		SET category_id = ?, field = ?, pattern = ?, match_type = ?, priority = ?, is_active = ?
		WHERE id = ? AND user_id = ?`,
		r.CategoryID, string(r.Field), r.Pattern, string(r.MatchType), r.Priority, boolInt(r.IsActive),
		r.ID, r.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrRuleNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, userID, id string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM category_rules WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrRuleNotFound
	}
	return nil
}

func (s *SQLiteStore) ListActiveRules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, category_id, field, pattern, match_type, priority, is_active
		FROM category_rules WHERE user_id = ? AND is_active = 1
		ORDER BY priority DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.CategoryRule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRule(scan func(...any) error) (*core.CategoryRule, error) {
	var r core.CategoryRule
	var field, matchType string
	var isActive int
	if err := scan(&r.ID, &r.UserID, &r.CategoryID, &field, &r.Pattern, &matchType, &r.Priority, &isActive); err != nil {
		return nil, err
	}
	r.Field = core.MatchField(field)
	r.MatchType = core.MatchType(matchType)
	r.IsActive = isActive != 0
	return &r, nil
}

// --- import batches ---

func (s *SQLiteStore) CreateBatch(ctx context.Context, b core.ImportBatch) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO import_batches (id, user_id, account_id, statement_format, file_name, file_content, status, error_message, processed_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.AccountID, b.StatementFormat, b.FileName, b.FileContent,
		string(b.Status), b.ErrorMessage, b.ProcessedCount, timeStr(b.CreatedAt))
	return err
}

func (s *SQLiteStore) GetBatch(ctx context.Context, userID, id string) (*core.ImportBatch, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, user_id, account_id, statement_format, file_name, file_content, status, error_message, processed_count, created_at
		FROM import_batches WHERE id = ? AND user_id = ?`, id, userID)

	var b core.ImportBatch
	var status, createdAt string
	err := row.Scan(&b.ID, &b.UserID, &b.AccountID, &b.StatementFormat, &b.FileName, &b.FileContent,
		&status, &b.ErrorMessage, &b.ProcessedCount, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrBatchNotFound
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	b.Status = core.BatchStatus(status)
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

func (s *SQLiteStore) UpdateBatch(ctx context.Context, b core.ImportBatch) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE import_batches
		SET statement_format = ?, status = ?, error_message = ?, processed_count = ?
		WHERE id = ? AND user_id = ?`,
		b.StatementFormat, string(b.Status), b.ErrorMessage, b.ProcessedCount, b.ID, b.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrBatchNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteBatch(ctx context.Context, userID, id string) error {
	// Raw rows cascade with the batch; committed transactions keep their
	// history with import_batch_id set to NULL by the schema.
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM import_batches WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrBatchNotFound
	}
	return nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, userID string, f store.BatchFilter) ([]core.ImportBatch, error) {
	query := `
		SELECT id, user_id, account_id, statement_format, file_name, file_content, status, error_message, processed_count, created_at
		FROM import_batches WHERE user_id = ?`
	args := []any{userID}
	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limitOrAll(f.Limit), f.Offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ImportBatch
	for rows.Next() {
		var b core.ImportBatch
		var status, createdAt string
		err := rows.Scan(&b.ID, &b.UserID, &b.AccountID, &b.StatementFormat, &b.FileName, &b.FileContent,
			&status, &b.ErrorMessage, &b.ProcessedCount, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.Status = core.BatchStatus(status)
		b.CreatedAt = parseTime(createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- raw transactions ---

func (s *SQLiteStore) CreateRawTransactions(ctx context.Context, rowsIn []core.RawTransaction) error {
	for _, r := range rowsIn {
		processed, err := encodeProcessed(r.ProcessedData)
		if err != nil {
			return err
		}
		_, err = s.q.ExecContext(ctx, `
			INSERT INTO raw_transactions (id, import_batch_id, row_number, raw_data, processed_data, status, error_message, transaction_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ImportBatchID, r.RowNumber, r.RawData, processed,
			string(r.Status), r.ErrorMessage, nullStr(r.TransactionID))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ListRawTransactions(ctx context.Context, batchID string) ([]core.RawTransaction, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, import_batch_id, row_number, raw_data, processed_data, status, error_message, transaction_id
		FROM raw_transactions WHERE import_batch_id = ? ORDER BY row_number`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.RawTransaction
	for rows.Next() {
		var r core.RawTransaction
		var processed, transactionID sql.NullString
		var status string
		err := rows.Scan(&r.ID, &r.ImportBatchID, &r.RowNumber, &r.RawData, &processed,
			&status, &r.ErrorMessage, &transactionID)
		if err != nil {
			return nil, fmt.Errorf("scan raw row: %w", err)
		}
		r.Status = core.RowStatus(status)
		r.TransactionID = transactionID.String
		if r.ProcessedData, err = decodeProcessed(processed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateRawTransaction(ctx context.Context, r core.RawTransaction) error {
	processed, err := encodeProcessed(r.ProcessedData)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE raw_transactions
		SET processed_data = ?, status = ?, error_message = ?, transaction_id = ?
		WHERE id = ?`,
		processed, string(r.Status), r.ErrorMessage, nullStr(r.TransactionID), r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("raw transaction %s not found", r.ID)
	}
	return nil
}

// --- transactions ---

func (s *SQLiteStore) CreateTransaction(ctx context.Context, t core.Transaction) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, account_id, linked_account_id, linked_transaction_id, transaction_date, posted_date, amount, currency, type, category_id, merchant, description, status, import_batch_id, raw_transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AccountID, nullStr(t.LinkedAccountID), nullStr(t.LinkedTransactionID),
		timeStr(t.TransactionDate), nullTime(t.PostedDate), t.Amount.String(), t.Currency, string(t.Type),
		nullStr(t.CategoryID), t.Merchant, t.Description, t.Status,
		nullStr(t.ImportBatchID), nullStr(t.RawTransactionID), timeStr(t.CreatedAt))
	return err
}

const transactionColumns = `id, user_id, account_id, linked_account_id, linked_transaction_id, transaction_date, posted_date, amount, currency, type, category_id, merchant, description, status, import_batch_id, raw_transaction_id, created_at`

func (s *SQLiteStore) GetTransaction(ctx context.Context, userID, id string) (*core.Transaction, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTransaction(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET transaction_date = ?, posted_date = ?, amount = ?, currency = ?, type = ?, category_id = ?, merchant = ?, description = ?, status = ?
		WHERE id = ? AND user_id = ?`,
		timeStr(t.TransactionDate), nullTime(t.PostedDate), t.Amount.String(), t.Currency, string(t.Type),
		nullStr(t.CategoryID), t.Merchant, t.Description, t.Status, t.ID, t.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrTransactionNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteTransaction(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrTransactionNotFound
	}
	return nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string, f store.TransactionFilter) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ?`
	args := []any{userID}
	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.CategoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, f.CategoryID)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if !f.From.IsZero() {
		query += ` AND transaction_date >= ?`
		args = append(args, timeStr(f.From))
	}
	if !f.To.IsZero() {
		query += ` AND transaction_date <= ?`
		args = append(args, timeStr(f.To))
	}
	query += ` ORDER BY transaction_date DESC, created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrAll(f.Limit), f.Offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTransaction(scan func(...any) error) (*core.Transaction, error) {
	var t core.Transaction
	var linkedAccount, linkedTransaction, postedDate, categoryID, batchID, rawID sql.NullString
	var txDate, amount, txType, createdAt string
	err := scan(&t.ID, &t.UserID, &t.AccountID, &linkedAccount, &linkedTransaction,
		&txDate, &postedDate, &amount, &t.Currency, &txType, &categoryID,
		&t.Merchant, &t.Description, &t.Status, &batchID, &rawID, &createdAt)
	if err != nil {
		return nil, err
	}

	t.LinkedAccountID = linkedAccount.String
	t.LinkedTransactionID = linkedTransaction.String
	t.TransactionDate = parseTime(txDate)
	if postedDate.Valid {
		pd := parseTime(postedDate.String)
		t.PostedDate = &pd
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	t.Amount = a
	t.Type = core.TransactionType(txType)
	t.CategoryID = categoryID.String
	t.ImportBatchID = batchID.String
	t.RawTransactionID = rawID.String
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

// --- helpers ---

func encodeProcessed(p *core.ProcessedRow) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode processed data: %w", err)
	}
	return string(b), nil
}

func decodeProcessed(s sql.NullString) (*core.ProcessedRow, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var p core.ProcessedRow
	if err := json.Unmarshal([]byte(s.String), &p); err != nil {
		return nil, fmt.Errorf("decode processed data: %w", err)
	}
	return &p, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeStr(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1 // SQLite: no limit
	}
	return limit
}
