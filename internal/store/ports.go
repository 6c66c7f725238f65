// Package store defines the persistence ports consumed by the import
// pipeline. Backends implement Store; the ledger engine and the import
// orchestrator perform every state transition inside WithinTx so a
// transaction write and its balance mutation are never observable apart.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// Accounts reads and mutates finance accounts.
type Accounts interface {
	CreateAccount(ctx context.Context, a core.Account) error
	GetAccount(ctx context.Context, userID, accountID string) (*core.Account, error)
	UpdateAccountBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
}

// Categories reads the category forest.
type Categories interface {
	CreateCategory(ctx context.Context, c core.Category) error
	GetCategory(ctx context.Context, id string) (*core.Category, error)
	ListSystemCategories(ctx context.Context) ([]core.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	CountChildCategories(ctx context.Context, id string) (int, error)
	CountTransactionsByCategory(ctx context.Context, id string) (int, error)
}

// Rules manages user-defined category rules.
type Rules interface {
	CreateRule(ctx context.Context, r core.CategoryRule) error
	GetRule(ctx context.Context, userID, id string) (*core.CategoryRule, error)
	UpdateRule(ctx context.Context, r core.CategoryRule) error
	DeleteRule(ctx context.Context, userID, id string) error
	ListActiveRules(ctx context.Context, userID string) ([]core.CategoryRule, error)
}

// BatchFilter narrows ListBatches results.
type BatchFilter struct {
	AccountID string
	Status    core.BatchStatus
	Offset    int
	Limit     int
}

// Imports manages import batches and their staged rows. Raw rows cascade
// with their batch.
type Imports interface {
	CreateBatch(ctx context.Context, b core.ImportBatch) error
	GetBatch(ctx context.Context, userID, id string) (*core.ImportBatch, error)
	UpdateBatch(ctx context.Context, b core.ImportBatch) error
	DeleteBatch(ctx context.Context, userID, id string) error
	ListBatches(ctx context.Context, userID string, f BatchFilter) ([]core.ImportBatch, error)

	CreateRawTransactions(ctx context.Context, rows []core.RawTransaction) error
	ListRawTransactions(ctx context.Context, batchID string) ([]core.RawTransaction, error)
	UpdateRawTransaction(ctx context.Context, row core.RawTransaction) error
}

// TransactionFilter narrows ListTransactions results.
type TransactionFilter struct {
	AccountID  string
	CategoryID string
	Type       core.TransactionType
	From       time.Time
	To         time.Time
	Offset     int
	Limit      int
}

// Transactions manages committed ledger entries.
type Transactions interface {
	CreateTransaction(ctx context.Context, t core.Transaction) error
	GetTransaction(ctx context.Context, userID, id string) (*core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]core.Transaction, error)
}

// Store is the combined persistence port. WithinTx runs fn against a
// transactional view; all writes inside fn commit together or not at
// all. Backends must serialize concurrent WithinTx calls touching the
// same account.
type Store interface {
	Accounts
	Categories
	Rules
	Imports
	Transactions

	WithinTx(ctx context.Context, fn func(Store) error) error
}
