package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/matcher"
	"fintrack/internal/store"
)

// TransactionService exposes ledger mutations, transaction queries and
// category breakdowns.
type TransactionService struct {
	store   store.Store
	ledger  *ledger.Engine
	matcher *matcher.Matcher
	logger  *log.Logger
}

func NewTransactionService(st store.Store, eng *ledger.Engine, m *matcher.Matcher, logger *log.Logger) *TransactionService {
	return &TransactionService{
		store:   st,
		ledger:  eng,
		matcher: m,
		logger:  logger.WithComponent(log.ComponentLedger),
	}
}

// PostTransaction commits a manually entered transaction. An empty
// category is resolved through the matcher first.
func (s *TransactionService) PostTransaction(ctx context.Context, userID, accountID string, in ledger.PostInput) (*core.Transaction, error) {
	if in.CategoryID == "" {
		categoryID, err := s.matcher.Match(ctx, userID, in.Description, in.Merchant)
		if err != nil {
			return nil, fmt.Errorf("match category: %w", err)
		}
		in.CategoryID = categoryID
	}
	return s.ledger.PostTransaction(ctx, userID, accountID, in)
}

// UpdateTransaction applies changes through the ledger engine.
func (s *TransactionService) UpdateTransaction(ctx context.Context, userID, id string, in ledger.UpdateInput) (*core.Transaction, error) {
	return s.ledger.UpdateTransaction(ctx, userID, id, in)
}

// DeleteTransaction removes a transaction, and its paired transfer leg
// if it has one.
func (s *TransactionService) DeleteTransaction(ctx context.Context, userID, id string) error {
	return s.ledger.DeleteTransaction(ctx, userID, id)
}

// PostTransferPair creates both legs of a cross-account transfer.
func (s *TransactionService) PostTransferPair(ctx context.Context, userID, sourceAccountID, destAccountID string, in ledger.TransferInput) (*core.Transaction, *core.Transaction, error) {
	return s.ledger.PostTransferPair(ctx, userID, sourceAccountID, destAccountID, in)
}

// MatchCategory resolves free text to a category id, reusable outside
// the import flow.
func (s *TransactionService) MatchCategory(ctx context.Context, userID, description, merchant string) (string, error) {
	return s.matcher.Match(ctx, userID, description, merchant)
}

// ListTransactions returns committed transactions, newest first.
func (s *TransactionService) ListTransactions(ctx context.Context, userID string, f store.TransactionFilter) ([]core.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, f)
}

// CategorySummary aggregates expense totals per category over a date
// range. Categories without live transactions are omitted.
func (s *TransactionService) CategorySummary(ctx context.Context, userID string, from, to time.Time) (*core.CategorySummary, error) {
	txns, err := s.store.ListTransactions(ctx, userID, store.TransactionFilter{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	summary := &core.CategorySummary{}
	byCategory := map[string]*core.CategoryTotal{}
	for _, t := range txns {
		if t.Type != core.Expense {
			continue
		}
		key := t.CategoryID
		ct, ok := byCategory[key]
		if !ok {
			name := "Uncategorized"
			if key != "" {
				cat, err := s.store.GetCategory(ctx, key)
				if err == nil {
					name = cat.Name
				}
			}
			ct = &core.CategoryTotal{CategoryID: key, Name: name}
			byCategory[key] = ct
		}
		ct.Total = ct.Total.Add(t.Amount)
		ct.Count++
		summary.Total = summary.Total.Add(t.Amount)
	}

	for _, ct := range byCategory {
		summary.ByCategory = append(summary.ByCategory, *ct)
	}
	sort.Slice(summary.ByCategory, func(i, j int) bool {
		return summary.ByCategory[i].Total.GreaterThan(summary.ByCategory[j].Total)
	})
	summary.FillPercentages()
	return summary, nil
}

// AccountService creates and reads finance accounts. Balances are never
// mutated here.
type AccountService struct {
	store  store.Store
	logger *log.Logger
}

func NewAccountService(st store.Store, logger *log.Logger) *AccountService {
	return &AccountService{store: st, logger: logger.WithComponent(log.ComponentApp)}
}

// CreateAccount opens a new account with a zero balance.
func (s *AccountService) CreateAccount(ctx context.Context, userID, name, currency string) (*core.Account, error) {
	a := core.Account{
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		Currency: currency,
		Status:   core.AccountActive,
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.InfoContext(ctx, "Account created", "account_id", a.ID, "currency", currency)
	return &a, nil
}

// GetAccount returns an account owned by the user.
func (s *AccountService) GetAccount(ctx context.Context, userID, accountID string) (*core.Account, error) {
	return s.store.GetAccount(ctx, userID, accountID)
}

// CategoryService manages user-defined categories alongside the seeded
// system catalogue.
type CategoryService struct {
	store  store.Store
	ledger *ledger.Engine
	logger *log.Logger
}

func NewCategoryService(st store.Store, eng *ledger.Engine, logger *log.Logger) *CategoryService {
	return &CategoryService{store: st, ledger: eng, logger: logger.WithComponent(log.ComponentLedger)}
}

// CreateCategory adds a user category, optionally under a parent.
func (s *CategoryService) CreateCategory(ctx context.Context, userID, name, parentID string) (*core.Category, error) {
	if parentID != "" {
		if _, err := s.store.GetCategory(ctx, parentID); err != nil {
			return nil, err
		}
	}
	c := core.Category{
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		ParentID: parentID,
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	s.logger.InfoContext(ctx, "Category created", "category_id", c.ID, "name", name)
	return &c, nil
}

// DeleteCategory removes a user category. System categories, categories
// with children and categories referenced by live transactions are
// protected.
func (s *CategoryService) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	return s.ledger.DeleteCategory(ctx, userID, categoryID)
}

// ListSystemCategories returns the seeded catalogue.
func (s *CategoryService) ListSystemCategories(ctx context.Context) ([]core.Category, error) {
	return s.store.ListSystemCategories(ctx)
}
