package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseStatementAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "102.15", want: "102.15"},
		{name: "negative sign discarded", input: "-550.00", want: "550"},
		{name: "currency symbol", input: "$1,234.56", want: "1234.56"},
		{name: "parentheses", input: "(45.00)", want: "45"},
		{name: "surrounding space", input: "  12.30 ", want: "12.3"},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatementAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseStatementAmount(%q) = %s, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatementAmount(%q) returned error: %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseStatementAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestBalanceEffect(t *testing.T) {
	amount := decimal.RequireFromString("100.50")

	tests := []struct {
		txType TransactionType
		want   string
	}{
		{Expense, "-100.5"},
		{Income, "100.5"},
		{TransferOut, "-100.5"},
		{TransferIn, "100.5"},
		{Refund, "0"},
		{Adjustment, "0"},
	}

	for _, tt := range tests {
		t.Run(string(tt.txType), func(t *testing.T) {
			got := tt.txType.BalanceEffect(amount)
			if got.String() != tt.want {
				t.Errorf("BalanceEffect(%s) = %s, want %s", tt.txType, got, tt.want)
			}
		})
	}
}

func TestFillPercentages(t *testing.T) {
	t.Run("normal split", func(t *testing.T) {
		s := CategorySummary{
			Total: decimal.RequireFromString("200"),
			ByCategory: []CategoryTotal{
				{CategoryID: "a", Total: decimal.RequireFromString("150")},
				{CategoryID: "b", Total: decimal.RequireFromString("50")},
			},
		}
		s.FillPercentages()
		if s.ByCategory[0].Percent != 75 {
			t.Errorf("category a percent = %v, want 75", s.ByCategory[0].Percent)
		}
		if s.ByCategory[1].Percent != 25 {
			t.Errorf("category b percent = %v, want 25", s.ByCategory[1].Percent)
		}
	})

	t.Run("zero total yields zero percent", func(t *testing.T) {
		s := CategorySummary{
			ByCategory: []CategoryTotal{
				{CategoryID: "a"},
				{CategoryID: "b"},
			},
		}
		s.FillPercentages()
		for _, ct := range s.ByCategory {
			if ct.Percent != 0 {
				t.Errorf("category %s percent = %v, want 0", ct.CategoryID, ct.Percent)
			}
		}
	})
}

func TestSystemCategoriesForest(t *testing.T) {
	cats := SystemCategories()
	byID := map[string]Category{}
	for _, c := range cats {
		byID[c.ID] = c
		if !c.IsSystem {
			t.Errorf("category %s not marked as system", c.ID)
		}
	}

	sub, ok := byID[SystemCategoryID("dining_restaurant")]
	if !ok {
		t.Fatal("dining_restaurant missing from catalogue")
	}
	if sub.ParentID != SystemCategoryID("dining") {
		t.Errorf("dining_restaurant parent = %q, want %q", sub.ParentID, SystemCategoryID("dining"))
	}

	top := byID[SystemCategoryID("dining")]
	if top.ParentID != "" {
		t.Errorf("dining parent = %q, want root", top.ParentID)
	}

	// transfer_in decomposes under transfer, not under a phantom parent.
	if byID[SystemCategoryID("transfer_in")].ParentID != SystemCategoryID("transfer") {
		t.Error("transfer_in should hang off transfer")
	}
}
