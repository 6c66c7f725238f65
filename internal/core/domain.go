package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Expense     TransactionType = "expense"
	Income      TransactionType = "income"
	TransferOut TransactionType = "transfer_out"
	TransferIn  TransactionType = "transfer_in"
	Refund      TransactionType = "refund"
	Adjustment  TransactionType = "adjustment"
)

const (
	BatchPending   BatchStatus = "pending"
	BatchProcessed BatchStatus = "processed"
	BatchCompleted BatchStatus = "completed"
	BatchError     BatchStatus = "error"
)

const (
	RowPending   RowStatus = "pending"
	RowProcessed RowStatus = "processed"
	RowError     RowStatus = "error"
	RowSkipped   RowStatus = "skipped"
)

const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
)

const (
	FieldDescription MatchField = "description"
	FieldMerchant    MatchField = "merchant"
)

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountClosed   AccountStatus = "closed"
)

type (
	TransactionType string
	BatchStatus     string
	RowStatus       string
	MatchType       string
	MatchField      string
	AccountStatus   string

	// Account is a user-owned finance account. Balance is mutated only by
	// the ledger engine, always together with the transaction that causes
	// the change.
	Account struct {
		ID       string
		UserID   string
		Name     string
		Currency string
		Balance  decimal.Decimal
		Status   AccountStatus
	}

	// Category is a node in the category forest. System categories are
	// seeded and immutable; user categories belong to a single user.
	Category struct {
		ID             string
		UserID         string
		Name           string
		ParentID       string
		IsSystem       bool
		SystemCategory string // tag like "dining_restaurant", empty for user categories
	}

	// CategoryRule is a user-defined auto-categorization rule. Higher
	// priority rules are checked first within their match type.
	CategoryRule struct {
		ID         string
		UserID     string
		CategoryID string
		Field      MatchField
		Pattern    string
		MatchType  MatchType
		Priority   int
		IsActive   bool
	}

	// ImportBatch is one statement upload and its processing lifecycle.
	ImportBatch struct {
		ID              string
		UserID          string
		AccountID       string
		StatementFormat string
		FileName        string
		FileContent     string
		Status          BatchStatus
		ErrorMessage    string
		ProcessedCount  int
		CreatedAt       time.Time
	}

	// RawTransaction is a staged statement row. It never outlives its
	// batch, and produces at most one Transaction when confirmed.
	RawTransaction struct {
		ID            string
		ImportBatchID string
		RowNumber     int
		RawData       string // verbatim statement record, JSON-encoded
		ProcessedData *ProcessedRow
		Status        RowStatus
		ErrorMessage  string
		TransactionID string // set once confirmed
	}

	// ProcessedRow is the canonical shape of a statement row after
	// parsing and category matching.
	ProcessedRow struct {
		TransactionDate time.Time       `json:"transaction_date"`
		PostedDate      *time.Time      `json:"posted_date,omitempty"`
		Amount          decimal.Decimal `json:"amount"`
		Currency        string          `json:"currency"`
		Type            TransactionType `json:"type"`
		CategoryID      string          `json:"category_id,omitempty"`
		Merchant        string          `json:"merchant,omitempty"`
		Description     string          `json:"description"`
	}

	// Transaction is a committed ledger entry. Amount is a non-negative
	// magnitude; the balance sign comes from Type alone.
	Transaction struct {
		ID                  string
		UserID              string
		AccountID           string
		LinkedAccountID     string
		LinkedTransactionID string
		TransactionDate     time.Time
		PostedDate          *time.Time
		Amount              decimal.Decimal
		Currency            string
		Type                TransactionType
		CategoryID          string
		Merchant            string
		Description         string
		Status              string
		ImportBatchID       string
		RawTransactionID    string
		CreatedAt           time.Time
	}
)

var (
	ErrFormatUnsupported      = errors.New("unsupported statement format")
	ErrAccountNotFound        = errors.New("account not found")
	ErrBatchNotFound          = errors.New("import batch not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrCategoryNotFound       = errors.New("category not found")
	ErrRuleNotFound           = errors.New("category rule not found")
	ErrBatchState             = errors.New("import batch is not in a valid state for this operation")
	ErrCounterAccountMissing  = errors.New("transfer counter account is required")
	ErrLoneTransferLeg        = errors.New("transfer legs must be created as a pair")
	ErrCategoryInUse          = errors.New("category has transactions or child categories")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrEmptyDescription       = errors.New("empty description")
	ErrInvalidRuleField       = errors.New("invalid rule field")
	ErrInvalidRuleMatchType   = errors.New("invalid rule match type")
	ErrInvalidRulePattern     = errors.New("invalid rule pattern")
	ErrSystemCategoryReadOnly = errors.New("system categories cannot be modified")
)

// BalanceEffect returns the signed delta a transaction of this type and
// magnitude applies to its account. Refunds and adjustments are recorded
// without moving the balance.
func (t TransactionType) BalanceEffect(amount decimal.Decimal) decimal.Decimal {
	switch t {
	case Expense, TransferOut:
		return amount.Neg()
	case Income, TransferIn:
		return amount
	default:
		return decimal.Zero
	}
}

// IsTransfer reports whether the type is one leg of a transfer pair.
func (t TransactionType) IsTransfer() bool {
	return t == TransferOut || t == TransferIn
}

func (t TransactionType) Valid() bool {
	switch t {
	case Expense, Income, TransferOut, TransferIn, Refund, Adjustment:
		return true
	}
	return false
}

func (f MatchField) Valid() bool {
	return f == FieldDescription || f == FieldMerchant
}

func (m MatchType) Valid() bool {
	return m == MatchExact || m == MatchContains || m == MatchRegex
}

func (p ProcessedRow) Validate() error {
	if p.TransactionDate.IsZero() {
		return errors.New("transaction date cannot be zero")
	}
	if p.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if len(strings.TrimSpace(p.Description)) == 0 {
		return ErrEmptyDescription
	}
	if !p.Type.Valid() {
		return errors.New("invalid transaction type")
	}
	return nil
}
