// Package memory is an in-process Store backend. It is the default
// development backend and the test double for the service layer; the
// transactional view works on a deep copy that replaces live state only
// on commit, giving the same all-or-nothing semantics as the SQLite
// backend.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

type state struct {
	accounts     map[string]core.Account
	categories   map[string]core.Category
	rules        map[string]core.CategoryRule
	batches      map[string]core.ImportBatch
	rawRows      map[string]core.RawTransaction
	transactions map[string]core.Transaction
}

func newState() *state {
	return &state{
		accounts:     make(map[string]core.Account),
		categories:   make(map[string]core.Category),
		rules:        make(map[string]core.CategoryRule),
		batches:      make(map[string]core.ImportBatch),
		rawRows:      make(map[string]core.RawTransaction),
		transactions: make(map[string]core.Transaction),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.rawRows {
		if v.ProcessedData != nil {
			pd := *v.ProcessedData
			v.ProcessedData = &pd
		}
		c.rawRows[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	return c
}

// Store is the mutex-guarded root handle.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

// New creates an empty memory store seeded with the system category
// catalogue.
func New() *Store {
	s := &Store{st: newState()}
	for _, c := range core.SystemCategories() {
		s.st.categories[c.ID] = c
	}
	return s
}

// WithinTx runs fn against a copy of the state and swaps it in only if
// fn succeeds. Serialized by the store mutex.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&txStore{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Root methods lock and delegate to the unexported state operations.

func (s *Store) CreateAccount(ctx context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.createAccount(a)
}

func (s *Store) GetAccount(ctx context.Context, userID, accountID string) (*core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getAccount(userID, accountID)
}

func (s *Store) UpdateAccountBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateAccountBalance(accountID, balance)
}

func (s *Store) CreateCategory(ctx context.Context, c core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.categories[c.ID] = c
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getCategory(id)
}

func (s *Store) ListSystemCategories(ctx context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listSystemCategories(), nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.deleteCategory(id)
}

func (s *Store) CountChildCategories(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.countChildCategories(id), nil
}

func (s *Store) CountTransactionsByCategory(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.countTransactionsByCategory(id), nil
}

func (s *Store) CreateRule(ctx context.Context, r core.CategoryRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.rules[r.ID] = r
	return nil
}

func (s *Store) GetRule(ctx context.Context, userID, id string) (*core.CategoryRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getRule(userID, id)
}

func (s *Store) UpdateRule(ctx context.Context, r core.CategoryRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateRule(r)
}

func (s *Store) DeleteRule(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.deleteRule(userID, id)
}

func (s *Store) ListActiveRules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listActiveRules(userID), nil
}

func (s *Store) CreateBatch(ctx context.Context, b core.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.batches[b.ID] = b
	return nil
}

func (s *Store) GetBatch(ctx context.Context, userID, id string) (*core.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getBatch(userID, id)
}

func (s *Store) UpdateBatch(ctx context.Context, b core.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateBatch(b)
}

func (s *Store) DeleteBatch(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.deleteBatch(userID, id)
}

func (s *Store) ListBatches(ctx context.Context, userID string, f store.BatchFilter) ([]core.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listBatches(userID, f), nil
}

func (s *Store) CreateRawTransactions(ctx context.Context, rows []core.RawTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.createRawTransactions(rows)
	return nil
}

func (s *Store) ListRawTransactions(ctx context.Context, batchID string) ([]core.RawTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listRawTransactions(batchID), nil
}

func (s *Store) UpdateRawTransaction(ctx context.Context, row core.RawTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateRawTransaction(row)
}

func (s *Store) CreateTransaction(ctx context.Context, t core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.transactions[t.ID] = t
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, userID, id string) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getTransaction(userID, id)
}

func (s *Store) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.updateTransaction(t)
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.deleteTransaction(id)
}

func (s *Store) ListTransactions(ctx context.Context, userID string, f store.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listTransactions(userID, f), nil
}

// txStore is the unlocked transactional view handed to WithinTx callbacks.
type txStore struct {
	st *state
}

var _ store.Store = (*txStore)(nil)

// Nested WithinTx reuses the already-open transaction, matching the
// SQLite backend.
func (s *txStore) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}

func (s *txStore) CreateAccount(ctx context.Context, a core.Account) error {
	return s.st.createAccount(a)
}

func (s *txStore) GetAccount(ctx context.Context, userID, accountID string) (*core.Account, error) {
	return s.st.getAccount(userID, accountID)
}

func (s *txStore) UpdateAccountBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	return s.st.updateAccountBalance(accountID, balance)
}

func (s *txStore) CreateCategory(ctx context.Context, c core.Category) error {
	s.st.categories[c.ID] = c
	return nil
}

func (s *txStore) GetCategory(ctx context.Context, id string) (*core.Category, error) {
	return s.st.getCategory(id)
}

func (s *txStore) ListSystemCategories(ctx context.Context) ([]core.Category, error) {
	return s.st.listSystemCategories(), nil
}

func (s *txStore) DeleteCategory(ctx context.Context, id string) error {
	return s.st.deleteCategory(id)
}

func (s *txStore) CountChildCategories(ctx context.Context, id string) (int, error) {
	return s.st.countChildCategories(id), nil
}

func (s *txStore) CountTransactionsByCategory(ctx context.Context, id string) (int, error) {
	return s.st.countTransactionsByCategory(id), nil
}

func (s *txStore) CreateRule(ctx context.Context, r core.CategoryRule) error {
	s.st.rules[r.ID] = r
	return nil
}

func (s *txStore) GetRule(ctx context.Context, userID, id string) (*core.CategoryRule, error) {
	return s.st.getRule(userID, id)
}

func (s *txStore) UpdateRule(ctx context.Context, r core.CategoryRule) error {
	return s.st.updateRule(r)
}

func (s *txStore) DeleteRule(ctx context.Context, userID, id string) error {
	return s.st.deleteRule(userID, id)
}

func (s *txStore) ListActiveRules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	return s.st.listActiveRules(userID), nil
}

func (s *txStore) CreateBatch(ctx context.Context, b core.ImportBatch) error {
	s.st.batches[b.ID] = b
	return nil
}

func (s *txStore) GetBatch(ctx context.Context, userID, id string) (*core.ImportBatch, error) {
	return s.st.getBatch(userID, id)
}

func (s *txStore) UpdateBatch(ctx context.Context, b core.ImportBatch) error {
	return s.st.updateBatch(b)
}

func (s *txStore) DeleteBatch(ctx context.Context, userID, id string) error {
	return s.st.deleteBatch(userID, id)
}

func (s *txStore) ListBatches(ctx context.Context, userID string, f store.BatchFilter) ([]core.ImportBatch, error) {
	return s.st.listBatches(userID, f), nil
}

func (s *txStore) CreateRawTransactions(ctx context.Context, rows []core.RawTransaction) error {
	s.st.createRawTransactions(rows)
	return nil
}

func (s *txStore) ListRawTransactions(ctx context.Context, batchID string) ([]core.RawTransaction, error) {
	return s.st.listRawTransactions(batchID), nil
}

func (s *txStore) UpdateRawTransaction(ctx context.Context, row core.RawTransaction) error {
	return s.st.updateRawTransaction(row)
}

func (s *txStore) CreateTransaction(ctx context.Context, t core.Transaction) error {
	s.st.transactions[t.ID] = t
	return nil
}

func (s *txStore) GetTransaction(ctx context.Context, userID, id string) (*core.Transaction, error) {
	return s.st.getTransaction(userID, id)
}

func (s *txStore) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	return s.st.updateTransaction(t)
}

func (s *txStore) DeleteTransaction(ctx context.Context, id string) error {
	return s.st.deleteTransaction(id)
}

func (s *txStore) ListTransactions(ctx context.Context, userID string, f store.TransactionFilter) ([]core.Transaction, error) {
	return s.st.listTransactions(userID, f), nil
}

// State operations.

func (s *state) createAccount(a core.Account) error {
	s.accounts[a.ID] = a
	return nil
}

func (s *state) getAccount(userID, accountID string) (*core.Account, error) {
	a, ok := s.accounts[accountID]
	if !ok || a.UserID != userID {
		return nil, core.ErrAccountNotFound
	}
	out := a
	return &out, nil
}

func (s *state) updateAccountBalance(accountID string, balance decimal.Decimal) error {
	a, ok := s.accounts[accountID]
	if !ok {
		return core.ErrAccountNotFound
	}
	a.Balance = balance
	s.accounts[accountID] = a
	return nil
}

func (s *state) getCategory(id string) (*core.Category, error) {
	c, ok := s.categories[id]
	if !ok {
		return nil, core.ErrCategoryNotFound
	}
	out := c
	return &out, nil
}

func (s *state) listSystemCategories() []core.Category {
	var out []core.Category
	for _, c := range s.categories {
		if c.IsSystem {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) deleteCategory(id string) error {
	if _, ok := s.categories[id]; !ok {
		return core.ErrCategoryNotFound
	}
	delete(s.categories, id)
	return nil
}

func (s *state) countChildCategories(id string) int {
	n := 0
	for _, c := range s.categories {
		if c.ParentID == id {
			n++
		}
	}
	return n
}

func (s *state) countTransactionsByCategory(id string) int {
	n := 0
	for _, t := range s.transactions {
		if t.CategoryID == id {
			n++
		}
	}
	return n
}

func (s *state) getRule(userID, id string) (*core.CategoryRule, error) {
	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return nil, core.ErrRuleNotFound
	}
	out := r
	return &out, nil
}

func (s *state) updateRule(r core.CategoryRule) error {
	if _, ok := s.rules[r.ID]; !ok {
		return core.ErrRuleNotFound
	}
	s.rules[r.ID] = r
	return nil
}

func (s *state) deleteRule(userID, id string) error {
	r, ok := s.rules[id]
	if !ok || r.UserID != userID {
		return core.ErrRuleNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *state) listActiveRules(userID string) []core.CategoryRule {
	var out []core.CategoryRule
	for _, r := range s.rules {
		if r.UserID == userID && r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func (s *state) getBatch(userID, id string) (*core.ImportBatch, error) {
	b, ok := s.batches[id]
	if !ok || b.UserID != userID {
		return nil, core.ErrBatchNotFound
	}
	out := b
	return &out, nil
}

func (s *state) updateBatch(b core.ImportBatch) error {
	if _, ok := s.batches[b.ID]; !ok {
		return core.ErrBatchNotFound
	}
	s.batches[b.ID] = b
	return nil
}

func (s *state) deleteBatch(userID, id string) error {
	b, ok := s.batches[id]
	if !ok || b.UserID != userID {
		return core.ErrBatchNotFound
	}
	delete(s.batches, id)
	// Raw rows cascade with their batch.
	for rid, row := range s.rawRows {
		if row.ImportBatchID == id {
			delete(s.rawRows, rid)
		}
	}
	// Committed transactions survive with their provenance links cleared,
	// matching the schema's ON DELETE SET NULL.
	for tid, t := range s.transactions {
		if t.ImportBatchID == id {
			t.ImportBatchID = ""
			t.RawTransactionID = ""
			s.transactions[tid] = t
		}
	}
	return nil
}

func (s *state) listBatches(userID string, f store.BatchFilter) []core.ImportBatch {
	var out []core.ImportBatch
	for _, b := range s.batches {
		if b.UserID != userID {
			continue
		}
		if f.AccountID != "" && b.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, f.Offset, f.Limit)
}

func (s *state) createRawTransactions(rows []core.RawTransaction) {
	for _, row := range rows {
		if row.ProcessedData != nil {
			pd := *row.ProcessedData
			row.ProcessedData = &pd
		}
		s.rawRows[row.ID] = row
	}
}

func (s *state) listRawTransactions(batchID string) []core.RawTransaction {
	var out []core.RawTransaction
	for _, row := range s.rawRows {
		if row.ImportBatchID != batchID {
			continue
		}
		if row.ProcessedData != nil {
			pd := *row.ProcessedData
			row.ProcessedData = &pd
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}

func (s *state) updateRawTransaction(row core.RawTransaction) error {
	if _, ok := s.rawRows[row.ID]; !ok {
		return core.ErrBatchNotFound
	}
	if row.ProcessedData != nil {
		pd := *row.ProcessedData
		row.ProcessedData = &pd
	}
	s.rawRows[row.ID] = row
	return nil
}

func (s *state) getTransaction(userID, id string) (*core.Transaction, error) {
	t, ok := s.transactions[id]
	if !ok || t.UserID != userID {
		return nil, core.ErrTransactionNotFound
	}
	out := t
	return &out, nil
}

func (s *state) updateTransaction(t core.Transaction) error {
	if _, ok := s.transactions[t.ID]; !ok {
		return core.ErrTransactionNotFound
	}
	s.transactions[t.ID] = t
	return nil
}

func (s *state) deleteTransaction(id string) error {
	if _, ok := s.transactions[id]; !ok {
		return core.ErrTransactionNotFound
	}
	delete(s.transactions, id)
	// Import provenance links are nullable on delete.
	for rid, row := range s.rawRows {
		if row.TransactionID == id {
			row.TransactionID = ""
			s.rawRows[rid] = row
		}
	}
	return nil
}

func (s *state) listTransactions(userID string, f store.TransactionFilter) []core.Transaction {
	var out []core.Transaction
	for _, t := range s.transactions {
		if t.UserID != userID {
			continue
		}
		if f.AccountID != "" && t.AccountID != f.AccountID {
			continue
		}
		if f.CategoryID != "" && t.CategoryID != f.CategoryID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if !f.From.IsZero() && t.TransactionDate.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && t.TransactionDate.After(f.To) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].TransactionDate.After(out[j].TransactionDate)
	})
	return paginate(out, f.Offset, f.Limit)
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
