// Package ledger commits transactions and keeps account balances equal
// to the signed sum of their live transactions. Every mutation runs in
// one storage transaction together with its balance effect.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// Engine is the only component allowed to mutate account balances.
type Engine struct {
	store store.Store
}

func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// PostInput describes a transaction to commit. Amount is a non-negative
// magnitude; direction comes from Type.
type PostInput struct {
	TransactionDate  time.Time
	PostedDate       *time.Time
	Amount           decimal.Decimal
	Currency         string
	Type             core.TransactionType
	CategoryID       string
	Merchant         string
	Description      string
	ImportBatchID    string
	RawTransactionID string
}

// UpdateInput carries the fields an update may change. Nil pointers
// leave the field untouched.
type UpdateInput struct {
	TransactionDate *time.Time
	Amount          *decimal.Decimal
	Type            *core.TransactionType
	CategoryID      *string
	Merchant        *string
	Description     *string
}

// TransferInput describes one cross-account movement; the engine
// synthesizes both mirrored legs from it.
type TransferInput struct {
	TransactionDate time.Time
	Amount          decimal.Decimal
	Currency        string
	Description     string
}

var errTransferLegImmutable = errors.New("transfer legs cannot change amount or type")

// PostTransaction commits a single transaction and applies its balance
// effect atomically. Transfer legs are rejected here; PostTransferPair
// is the only way to create them.
func (e *Engine) PostTransaction(ctx context.Context, userID, accountID string, in PostInput) (*core.Transaction, error) {
	if in.Type.IsTransfer() {
		return nil, core.ErrLoneTransferLeg
	}
	row := core.ProcessedRow{
		TransactionDate: in.TransactionDate,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Type:            in.Type,
		Description:     in.Description,
	}
	if err := row.Validate(); err != nil {
		return nil, err
	}

	var out *core.Transaction
	err := e.store.WithinTx(ctx, func(st store.Store) error {
		account, err := st.GetAccount(ctx, userID, accountID)
		if err != nil {
			return err
		}

		t := core.Transaction{
			ID:               uuid.NewString(),
			UserID:           userID,
			AccountID:        accountID,
			TransactionDate:  in.TransactionDate,
			PostedDate:       in.PostedDate,
			Amount:           in.Amount,
			Currency:         currencyOr(in.Currency, account.Currency),
			Type:             in.Type,
			CategoryID:       in.CategoryID,
			Merchant:         in.Merchant,
			Description:      in.Description,
			Status:           "completed",
			ImportBatchID:    in.ImportBatchID,
			RawTransactionID: in.RawTransactionID,
			CreatedAt:        time.Now().UTC(),
		}
		if err := st.CreateTransaction(ctx, t); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}

		balance := account.Balance.Add(t.Type.BalanceEffect(t.Amount))
		if err := st.UpdateAccountBalance(ctx, accountID, balance); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		out = &t
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Transaction posted",
		"transaction_id", out.ID,
		"account_id", accountID,
		"type", out.Type,
		"amount", out.Amount.String())

	return out, nil
}

// UpdateTransaction applies changes, reversing the old (amount, type)
// effect before applying the new one so a type flip is handled
// correctly. Transfer legs may change text fields only.
func (e *Engine) UpdateTransaction(ctx context.Context, userID, id string, in UpdateInput) (*core.Transaction, error) {
	var out *core.Transaction
	err := e.store.WithinTx(ctx, func(st store.Store) error {
		t, err := st.GetTransaction(ctx, userID, id)
		if err != nil {
			return err
		}

		if t.Type.IsTransfer() && (in.Amount != nil || in.Type != nil) {
			return errTransferLegImmutable
		}
		if in.Type != nil {
			if in.Type.IsTransfer() {
				return core.ErrLoneTransferLeg
			}
			if !in.Type.Valid() {
				return fmt.Errorf("invalid transaction type %q", *in.Type)
			}
		}
		if in.Amount != nil && in.Amount.IsNegative() {
			return core.ErrInvalidAmount
		}

		oldAmount, oldType := t.Amount, t.Type

		if in.TransactionDate != nil {
			t.TransactionDate = *in.TransactionDate
		}
		if in.Amount != nil {
			t.Amount = *in.Amount
		}
		if in.Type != nil {
			t.Type = *in.Type
		}
		if in.CategoryID != nil {
			t.CategoryID = *in.CategoryID
		}
		if in.Merchant != nil {
			t.Merchant = *in.Merchant
		}
		if in.Description != nil {
			t.Description = *in.Description
		}

		if err := st.UpdateTransaction(ctx, *t); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}

		if !t.Amount.Equal(oldAmount) || t.Type != oldType {
			account, err := st.GetAccount(ctx, userID, t.AccountID)
			if err != nil {
				return err
			}
			// Undo the old effect, then apply the new one. Never a
			// direct delta: a type change flips the sign.
			balance := account.Balance.
				Sub(oldType.BalanceEffect(oldAmount)).
				Add(t.Type.BalanceEffect(t.Amount))
			if err := st.UpdateAccountBalance(ctx, t.AccountID, balance); err != nil {
				return fmt.Errorf("update balance: %w", err)
			}
		}

		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTransaction removes a transaction and undoes its balance
// effect. Deleting one leg of a transfer deletes the paired leg and
// undoes its effect on the counter account as well.
func (e *Engine) DeleteTransaction(ctx context.Context, userID, id string) error {
	return e.store.WithinTx(ctx, func(st store.Store) error {
		t, err := st.GetTransaction(ctx, userID, id)
		if err != nil {
			return err
		}

		if err := e.removeOne(ctx, st, userID, t); err != nil {
			return err
		}

		if t.LinkedTransactionID != "" {
			pair, err := st.GetTransaction(ctx, userID, t.LinkedTransactionID)
			if err != nil {
				if errors.Is(err, core.ErrTransactionNotFound) {
					return nil
				}
				return err
			}
			if err := e.removeOne(ctx, st, userID, pair); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) removeOne(ctx context.Context, st store.Store, userID string, t *core.Transaction) error {
	account, err := st.GetAccount(ctx, userID, t.AccountID)
	if err != nil {
		return err
	}
	balance := account.Balance.Sub(t.Type.BalanceEffect(t.Amount))
	if err := st.UpdateAccountBalance(ctx, t.AccountID, balance); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if err := st.DeleteTransaction(ctx, t.ID); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return nil
}

// PostTransferPair atomically creates both mirrored legs of a transfer
// and cross-links them. This is the only sanctioned way to create
// transfer transactions.
func (e *Engine) PostTransferPair(ctx context.Context, userID, sourceAccountID, destAccountID string, in TransferInput) (*core.Transaction, *core.Transaction, error) {
	if in.Amount.IsNegative() || in.Amount.IsZero() {
		return nil, nil, core.ErrInvalidAmount
	}
	if destAccountID == "" {
		return nil, nil, core.ErrCounterAccountMissing
	}

	var outLeg, inLeg *core.Transaction
	err := e.store.WithinTx(ctx, func(st store.Store) error {
		source, err := st.GetAccount(ctx, userID, sourceAccountID)
		if err != nil {
			return err
		}
		dest, err := st.GetAccount(ctx, userID, destAccountID)
		if err != nil {
			if errors.Is(err, core.ErrAccountNotFound) {
				return core.ErrCounterAccountMissing
			}
			return err
		}

		now := time.Now().UTC()
		out := core.Transaction{
			ID:              uuid.NewString(),
			UserID:          userID,
			AccountID:       sourceAccountID,
			LinkedAccountID: destAccountID,
			TransactionDate: in.TransactionDate,
			Amount:          in.Amount,
			Currency:        currencyOr(in.Currency, source.Currency),
			Type:            core.TransferOut,
			CategoryID:      core.SystemCategoryID("transfer_out"),
			Description:     in.Description,
			Status:          "completed",
			CreatedAt:       now,
		}
		mirror := core.Transaction{
			ID:                  uuid.NewString(),
			UserID:              userID,
			AccountID:           destAccountID,
			LinkedAccountID:     sourceAccountID,
			LinkedTransactionID: out.ID,
			TransactionDate:     in.TransactionDate,
			Amount:              in.Amount,
			Currency:            currencyOr(in.Currency, dest.Currency),
			Type:                core.TransferIn,
			CategoryID:          core.SystemCategoryID("transfer_in"),
			Description:         in.Description,
			Status:              "completed",
			CreatedAt:           now,
		}
		out.LinkedTransactionID = mirror.ID

		if err := st.CreateTransaction(ctx, out); err != nil {
			return fmt.Errorf("create transfer_out leg: %w", err)
		}
		if err := st.CreateTransaction(ctx, mirror); err != nil {
			return fmt.Errorf("create transfer_in leg: %w", err)
		}

		if err := st.UpdateAccountBalance(ctx, sourceAccountID, source.Balance.Sub(in.Amount)); err != nil {
			return fmt.Errorf("update source balance: %w", err)
		}
		if err := st.UpdateAccountBalance(ctx, destAccountID, dest.Balance.Add(in.Amount)); err != nil {
			return fmt.Errorf("update destination balance: %w", err)
		}

		outLeg, inLeg = &out, &mirror
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	slog.InfoContext(ctx, "Transfer pair posted",
		"out_id", outLeg.ID,
		"in_id", inLeg.ID,
		"source_account", sourceAccountID,
		"dest_account", destAccountID,
		"amount", in.Amount.String())

	return outLeg, inLeg, nil
}

// DeleteCategory removes a user category. It is blocked while any live
// transaction references the category or while it has children.
func (e *Engine) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	return e.store.WithinTx(ctx, func(st store.Store) error {
		cat, err := st.GetCategory(ctx, categoryID)
		if err != nil {
			return err
		}
		if cat.IsSystem {
			return core.ErrSystemCategoryReadOnly
		}
		if cat.UserID != userID {
			return core.ErrCategoryNotFound
		}

		children, err := st.CountChildCategories(ctx, categoryID)
		if err != nil {
			return fmt.Errorf("count child categories: %w", err)
		}
		if children > 0 {
			return core.ErrCategoryInUse
		}

		used, err := st.CountTransactionsByCategory(ctx, categoryID)
		if err != nil {
			return fmt.Errorf("count category transactions: %w", err)
		}
		if used > 0 {
			return core.ErrCategoryInUse
		}

		return st.DeleteCategory(ctx, categoryID)
	})
}

func currencyOr(currency, fallback string) string {
	if currency != "" {
		return currency
	}
	return fallback
}
