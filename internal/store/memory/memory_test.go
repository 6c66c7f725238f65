package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

func seedAccount(t *testing.T, s *Store, userID, id string) {
	t.Helper()
	err := s.CreateAccount(context.Background(), core.Account{
		ID:       id,
		UserID:   userID,
		Name:     "Chequing",
		Currency: "CAD",
		Status:   core.AccountActive,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "u1", "a1")

	sentinel := errors.New("boom")
	err := s.WithinTx(ctx, func(st store.Store) error {
		if err := st.UpdateAccountBalance(ctx, "a1", decimal.RequireFromString("99")); err != nil {
			return err
		}
		if err := st.CreateTransaction(ctx, core.Transaction{
			ID:        "t1",
			UserID:    "u1",
			AccountID: "a1",
			Amount:    decimal.RequireFromString("99"),
			Type:      core.Income,
		}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithinTx error = %v, want sentinel", err)
	}

	a, err := s.GetAccount(ctx, "u1", "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Balance.IsZero() {
		t.Errorf("balance = %s after rollback, want 0", a.Balance)
	}
	if _, err := s.GetTransaction(ctx, "u1", "t1"); !errors.Is(err, core.ErrTransactionNotFound) {
		t.Errorf("transaction survived rollback: err = %v", err)
	}
}

func TestWithinTxNestedJoins(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "u1", "a1")

	// The inner WithinTx joins the outer transaction, so the outer
	// failure discards the inner write too.
	sentinel := errors.New("boom")
	err := s.WithinTx(ctx, func(st store.Store) error {
		if err := st.WithinTx(ctx, func(inner store.Store) error {
			return inner.UpdateAccountBalance(ctx, "a1", decimal.RequireFromString("50"))
		}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithinTx error = %v, want sentinel", err)
	}

	a, _ := s.GetAccount(ctx, "u1", "a1")
	if !a.Balance.IsZero() {
		t.Errorf("balance = %s, want 0 (nested write must not escape)", a.Balance)
	}
}

func TestAccountsScopedByUser(t *testing.T) {
	s := New()
	seedAccount(t, s, "u1", "a1")

	if _, err := s.GetAccount(context.Background(), "u2", "a1"); !errors.Is(err, core.ErrAccountNotFound) {
		t.Errorf("cross-user read error = %v, want ErrAccountNotFound", err)
	}
}

func TestDeleteBatchCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "u1", "a1")

	batch := core.ImportBatch{
		ID: "b1", UserID: "u1", AccountID: "a1",
		FileName: "x.csv", Status: core.BatchPending, CreatedAt: time.Now(),
	}
	if err := s.CreateBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}
	rows := []core.RawTransaction{
		{ID: "r1", ImportBatchID: "b1", RowNumber: 1, Status: core.RowProcessed, TransactionID: "t1"},
		{ID: "r2", ImportBatchID: "b1", RowNumber: 2, Status: core.RowPending},
	}
	if err := s.CreateRawTransactions(ctx, rows); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTransaction(ctx, core.Transaction{
		ID: "t1", UserID: "u1", AccountID: "a1",
		Amount: decimal.RequireFromString("10"), Type: core.Expense,
		ImportBatchID: "b1", RawTransactionID: "r1",
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteBatch(ctx, "u1", "b1"); err != nil {
		t.Fatal(err)
	}
	left, err := s.ListRawTransactions(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("found %d raw rows after batch delete, want 0", len(left))
	}

	// Committed transactions survive, with provenance links nulled.
	tx, err := s.GetTransaction(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("committed transaction gone after batch delete: %v", err)
	}
	if tx.ImportBatchID != "" || tx.RawTransactionID != "" {
		t.Errorf("provenance = %q/%q after batch delete, want cleared", tx.ImportBatchID, tx.RawTransactionID)
	}
}

func TestDeleteTransactionClearsRowLink(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "u1", "a1")

	if err := s.CreateBatch(ctx, core.ImportBatch{
		ID: "b1", UserID: "u1", AccountID: "a1", Status: core.BatchProcessed, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRawTransactions(ctx, []core.RawTransaction{
		{ID: "r1", ImportBatchID: "b1", RowNumber: 1, Status: core.RowProcessed, TransactionID: "t1"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTransaction(ctx, core.Transaction{
		ID: "t1", UserID: "u1", AccountID: "a1",
		Amount: decimal.RequireFromString("10"), Type: core.Expense,
		RawTransactionID: "r1", ImportBatchID: "b1",
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteTransaction(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	rows, err := s.ListRawTransactions(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].TransactionID != "" {
		t.Errorf("row link = %q after transaction delete, want cleared", rows[0].TransactionID)
	}
}

func TestListRawTransactionsOrderedByRow(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "u1", "a1")
	if err := s.CreateBatch(ctx, core.ImportBatch{
		ID: "b1", UserID: "u1", AccountID: "a1", Status: core.BatchPending, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRawTransactions(ctx, []core.RawTransaction{
		{ID: "r3", ImportBatchID: "b1", RowNumber: 3},
		{ID: "r1", ImportBatchID: "b1", RowNumber: 1},
		{ID: "r2", ImportBatchID: "b1", RowNumber: 2},
	}); err != nil {
		t.Fatal(err)
	}

	rows, err := s.ListRawTransactions(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	for i, row := range rows {
		if row.RowNumber != i+1 {
			t.Errorf("rows[%d].RowNumber = %d, want %d", i, row.RowNumber, i+1)
		}
	}
}

func TestListTransactionsPagination(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "u1", "a1")

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.CreateTransaction(ctx, core.Transaction{
			ID:              string(rune('a' + i)),
			UserID:          "u1",
			AccountID:       "a1",
			TransactionDate: base.AddDate(0, 0, i),
			Amount:          decimal.RequireFromString("1"),
			Type:            core.Expense,
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Newest first: offset 1, limit 2 yields days 4 and 3.
	page, err := s.ListTransactions(ctx, "u1", store.TransactionFilter{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d transactions, want 2", len(page))
	}
	if !page[0].TransactionDate.Equal(base.AddDate(0, 0, 3)) {
		t.Errorf("page[0] date = %s", page[0].TransactionDate)
	}

	// Offset past the end is empty, not an error.
	empty, err := s.ListTransactions(ctx, "u1", store.TransactionFilter{Offset: 10, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("got %d transactions past the end, want 0", len(empty))
	}
}

func TestListActiveRulesOrderAndFilter(t *testing.T) {
	s := New()
	ctx := context.Background()

	rules := []core.CategoryRule{
		{ID: "low", UserID: "u1", CategoryID: "c1", Field: core.FieldDescription, Pattern: "a", MatchType: core.MatchContains, Priority: 1, IsActive: true},
		{ID: "high", UserID: "u1", CategoryID: "c2", Field: core.FieldDescription, Pattern: "b", MatchType: core.MatchContains, Priority: 9, IsActive: true},
		{ID: "off", UserID: "u1", CategoryID: "c3", Field: core.FieldDescription, Pattern: "c", MatchType: core.MatchContains, Priority: 99, IsActive: false},
		{ID: "other", UserID: "u2", CategoryID: "c4", Field: core.FieldDescription, Pattern: "d", MatchType: core.MatchContains, Priority: 5, IsActive: true},
	}
	for _, r := range rules {
		if err := s.CreateRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListActiveRules(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rules, want 2 (inactive and other-user excluded)", len(got))
	}
	if got[0].ID != "high" || got[1].ID != "low" {
		t.Errorf("order = %s, %s; want high, low", got[0].ID, got[1].ID)
	}
}
