package statement

import (
	"errors"
	"testing"

	"fintrack/internal/core"
)

const rbcSample = `"Account Type","Account Number","Transaction Date","Cheque Number","Description 1","Description 2","CAD$","USD$"
Chequing,01234-5678901,01/15/2025,,"PAYROLL DEPOSIT","ACME CORP",2500.00,
Chequing,01234-5678901,01/16/2025,,"INTERAC E-TRANSFER","JANE D",-200.00,
Chequing,01234-5678901,01/17/2025,,"MONTHLY FEE",,-16.95,
`

func TestRBCCheckingParse(t *testing.T) {
	p := &RBCCheckingParser{}
	rows, err := p.Parse(rbcSample)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	want := []struct {
		date        string
		amount      string
		txType      core.TransactionType
		merchant    string
		description string
		hint        string
	}{
		{"2025-01-15", "2500", core.Income, "PAYROLL DEPOSIT", "PAYROLL DEPOSIT - ACME CORP", "income_salary"},
		{"2025-01-16", "200", core.Expense, "INTERAC E", "INTERAC E-TRANSFER - JANE D", "transfer"},
		{"2025-01-17", "16.95", core.Expense, "", "MONTHLY FEE", "other"},
	}

	for i, w := range want {
		row := rows[i]
		if row.Err != nil {
			t.Fatalf("row %d: unexpected error: %v", i+1, row.Err)
		}
		c := row.Canonical
		if got := c.TransactionDate.Format("2006-01-02"); got != w.date {
			t.Errorf("row %d: date = %s, want %s", i+1, got, w.date)
		}
		if c.Amount.String() != w.amount {
			t.Errorf("row %d: amount = %s, want %s", i+1, c.Amount, w.amount)
		}
		if c.Type != w.txType {
			t.Errorf("row %d: type = %s, want %s", i+1, c.Type, w.txType)
		}
		if c.Merchant != w.merchant {
			t.Errorf("row %d: merchant = %q, want %q", i+1, c.Merchant, w.merchant)
		}
		if c.Description != w.description {
			t.Errorf("row %d: description = %q, want %q", i+1, c.Description, w.description)
		}
		if row.CategoryHint != w.hint {
			t.Errorf("row %d: hint = %q, want %q", i+1, row.CategoryHint, w.hint)
		}
	}
}

func TestRBCCheckingRowErrors(t *testing.T) {
	header := `"Account Type","Account Number","Transaction Date","Cheque Number","Description 1","Description 2","CAD$","USD$"` + "\n"

	tests := []struct {
		name  string
		line  string
	}{
		{name: "bad date", line: `Chequing,01234,2025-01-15,,"STORE",,-10.00,`},
		{name: "missing description", line: `Chequing,01234,01/15/2025,,"",,-10.00,`},
		{name: "bad amount", line: `Chequing,01234,01/15/2025,,"STORE",,abc,`},
	}

	p := &RBCCheckingParser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := p.Parse(header + tt.line + "\n")
			if err != nil {
				t.Fatalf("Parse returned file-level error: %v", err)
			}
			if len(rows) != 1 {
				t.Fatalf("got %d rows, want 1", len(rows))
			}
			if rows[0].Err == nil {
				t.Error("expected row-level error, got none")
			}
		})
	}
}

func TestRBCHeaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty export", content: ""},
		{
			// A data line in first position must not be consumed as the
			// header: that would drop a statement row without a trace.
			name:    "foreign content",
			content: `2025-01-15,"LCBO/RAO #0520",102.15,,4500********1234` + "\n",
		},
		{name: "wrong columns", content: "Date,Payee,Amount\n01/15/2025,STORE,-10.00\n"},
	}

	p := &RBCCheckingParser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Parse(tt.content); !errors.Is(err, core.ErrFormatUnsupported) {
				t.Errorf("Parse error = %v, want ErrFormatUnsupported", err)
			}
		})
	}
}
