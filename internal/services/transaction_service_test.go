package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/matcher"
	"fintrack/internal/store/memory"
)

func newTransactionFixture(t *testing.T) (*TransactionService, *memory.Store) {
	t.Helper()
	st := memory.New()
	if err := st.CreateAccount(context.Background(), core.Account{
		ID:       "acc-1",
		UserID:   testUser,
		Name:     "Chequing",
		Currency: "CAD",
		Status:   core.AccountActive,
	}); err != nil {
		t.Fatal(err)
	}
	logger := log.New(log.Config{Level: slog.LevelError})
	return NewTransactionService(st, ledger.New(st), matcher.New(st), logger), st
}

func postExpense(t *testing.T, svc *TransactionService, amount, categoryID, description string, date time.Time) *core.Transaction {
	t.Helper()
	tx, err := svc.PostTransaction(context.Background(), testUser, "acc-1", ledger.PostInput{
		TransactionDate: date,
		Amount:          decimal.RequireFromString(amount),
		Type:            core.Expense,
		CategoryID:      categoryID,
		Description:     description,
	})
	if err != nil {
		t.Fatalf("post %s: %v", description, err)
	}
	return tx
}

func TestPostTransactionResolvesCategory(t *testing.T) {
	svc, _ := newTransactionFixture(t)

	// No category given: the matcher resolves one from the description.
	tx, err := svc.PostTransaction(context.Background(), testUser, "acc-1", ledger.PostInput{
		TransactionDate: time.Now(),
		Amount:          decimal.RequireFromString("12.50"),
		Type:            core.Expense,
		Description:     "STARBUCKS #1234",
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if tx.CategoryID != core.SystemCategoryID("dining_cafe") {
		t.Errorf("CategoryID = %q, want dining_cafe", tx.CategoryID)
	}
}

func TestPostTransactionKeepsExplicitCategory(t *testing.T) {
	svc, _ := newTransactionFixture(t)

	// Explicit category wins even when the matcher would say otherwise.
	tx := postExpense(t, svc, "12.50", core.SystemCategoryID("other"), "STARBUCKS #1234", time.Now())
	if tx.CategoryID != core.SystemCategoryID("other") {
		t.Errorf("CategoryID = %q, want explicit other", tx.CategoryID)
	}
}

func TestCategorySummary(t *testing.T) {
	svc, _ := newTransactionFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	dining := core.SystemCategoryID("dining")
	postExpense(t, svc, "30", dining, "dinner", day)
	postExpense(t, svc, "45", dining, "lunch", day.AddDate(0, 0, 1))
	postExpense(t, svc, "25", "", "zzqx", day) // no category match

	// Income must not appear in an expense breakdown.
	if _, err := svc.PostTransaction(ctx, testUser, "acc-1", ledger.PostInput{
		TransactionDate: day,
		Amount:          decimal.RequireFromString("1000"),
		Type:            core.Income,
		CategoryID:      core.SystemCategoryID("income_salary"),
		Description:     "pay",
	}); err != nil {
		t.Fatal(err)
	}

	summary, err := svc.CategorySummary(ctx, testUser, day.AddDate(0, 0, -1), day.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total.String() != "100" {
		t.Errorf("total = %s, want 100", summary.Total)
	}
	if len(summary.ByCategory) != 2 {
		t.Fatalf("got %d categories, want 2", len(summary.ByCategory))
	}

	top := summary.ByCategory[0]
	if top.CategoryID != dining || top.Total.String() != "75" || top.Count != 2 {
		t.Errorf("top category = %+v, want dining/75/2", top)
	}
	if top.Percent != 75 {
		t.Errorf("top percent = %v, want 75", top.Percent)
	}

	uncat := summary.ByCategory[1]
	if uncat.Name != "Uncategorized" || uncat.Total.String() != "25" {
		t.Errorf("second category = %+v, want Uncategorized/25", uncat)
	}
}

func TestCreateCategoryValidatesParent(t *testing.T) {
	_, st := newTransactionFixture(t)
	ctx := context.Background()
	logger := log.New(log.Config{Level: slog.LevelError})
	svc := NewCategoryService(st, ledger.New(st), logger)

	c, err := svc.CreateCategory(ctx, testUser, "Hobbies", core.SystemCategoryID("entertainment"))
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	if c.ParentID != core.SystemCategoryID("entertainment") {
		t.Errorf("ParentID = %q", c.ParentID)
	}

	if _, err := svc.CreateCategory(ctx, testUser, "Orphan", "ghost"); err == nil {
		t.Error("expected error for unknown parent")
	}

	if err := svc.DeleteCategory(ctx, testUser, c.ID); err != nil {
		t.Errorf("delete leaf category: %v", err)
	}
}

func TestDeleteTransactionRestoresBalance(t *testing.T) {
	svc, st := newTransactionFixture(t)
	ctx := context.Background()

	tx := postExpense(t, svc, "40", "", "zzqx", time.Now())
	if err := svc.DeleteTransaction(ctx, testUser, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	a, err := st.GetAccount(ctx, testUser, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Balance.IsZero() {
		t.Errorf("balance = %s after delete, want 0", a.Balance)
	}
}
