package statement

import (
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"fintrack/internal/core"
)

// RBCCheckingParser parses RBC chequing-account CSV exports. The file
// has a fixed header row; dates use MM/DD/YYYY, the description spans
// two columns, and the CAD$ column carries a signed amount (negative
// for debits).
type RBCCheckingParser struct{}

// FormatRBCChecking identifies RBC chequing exports.
const FormatRBCChecking = "rbc_checking"

const rbcDateFormat = "01/02/2006"

func (p *RBCCheckingParser) Format() string { return FormatRBCChecking }

func (p *RBCCheckingParser) Parse(content string) ([]Row, error) {
	cr := csv.NewReader(strings.NewReader(content))
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading rbc csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: rbc export is missing its header row", core.ErrFormatUnsupported)
	}

	// The first line must actually be the RBC header; otherwise a
	// statement row would be silently swallowed as column names.
	header := records[0]
	if !hasColumns(header, "Transaction Date", "CAD$") {
		return nil, fmt.Errorf("%w: first line is not an rbc header", core.ErrFormatUnsupported)
	}

	var rows []Row
	for i, rec := range records[1:] {
		rows = append(rows, p.parseRecord(i+1, header, rec))
	}
	return rows, nil
}

func hasColumns(header []string, names ...string) bool {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = true
	}
	for _, name := range names {
		if !present[name] {
			return false
		}
	}
	return true
}

func (p *RBCCheckingParser) parseRecord(n int, header, rec []string) Row {
	raw := map[string]string{}
	for i, name := range header {
		if i < len(rec) {
			raw[name] = rec[i]
		}
	}

	txDate, err := time.Parse(rbcDateFormat, raw["Transaction Date"])
	if err != nil {
		return rowErr(n, raw, fmt.Errorf("parsing date %q: %w", raw["Transaction Date"], err))
	}

	var postedDate *time.Time
	if v := strings.TrimSpace(raw["Posting Date"]); v != "" {
		if d, err := time.Parse(rbcDateFormat, v); err == nil {
			postedDate = &d
		}
	}

	description := strings.TrimSpace(raw["Description 1"])
	if d2 := strings.TrimSpace(raw["Description 2"]); d2 != "" {
		description += " - " + d2
	}
	if description == "" {
		return rowErr(n, raw, fmt.Errorf("row has no description"))
	}

	amountStr := raw["CAD$"]
	amount, err := core.ParseStatementAmount(amountStr)
	if err != nil {
		return rowErr(n, raw, fmt.Errorf("parsing amount %q: %w", amountStr, err))
	}

	upper := strings.ToUpper(description)
	txType := core.Expense
	if containsAny(upper, "DEPOSIT", "CREDIT") || !strings.HasPrefix(strings.TrimSpace(amountStr), "-") {
		txType = core.Income
	}

	return Row{
		RowNumber: n,
		Raw:       raw,
		Canonical: &core.ProcessedRow{
			TransactionDate: txDate,
			PostedDate:      postedDate,
			Amount:          amount,
			Currency:        "CAD",
			Type:            txType,
			Merchant:        firstDashToken(description),
			Description:     description,
		},
		CategoryHint: rbcCategoryHint(upper),
	}
}

// firstDashToken returns the part before the first dash, the merchant
// position in RBC's two-column descriptions.
func firstDashToken(description string) string {
	parts := strings.Split(description, "-")
	if len(parts) > 1 {
		return strings.TrimSpace(parts[0])
	}
	return ""
}

func rbcCategoryHint(upper string) string {
	switch {
	case containsAny(upper, "PAYROLL", "SALARY"):
		return "income_salary"
	case strings.Contains(upper, "INTEREST"):
		return "income_investment"
	case strings.Contains(upper, "REFUND"):
		return "income_refund"
	case strings.Contains(upper, "MORTGAGE"):
		return "housing_mortgage"
	case strings.Contains(upper, "RENT"):
		return "housing_rent"
	case strings.Contains(upper, "INSURANCE"):
		return "healthcare_insurance"
	case containsAny(upper, "HYDRO", "WATER", "GAS"):
		return "housing_utilities"
	case containsAny(upper, "TRANSFER", "E-TRANSFER"):
		return "transfer"
	case containsAny(upper, "INVESTMENT", "TFSA", "RSP"):
		return "income_investment"
	}
	return "other"
}
