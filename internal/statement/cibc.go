package statement

import (
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"fintrack/internal/core"
)

// CIBCCreditParser parses CIBC credit-card CSV exports. The file has no
// header; every row is date, description, debit, credit, card number,
// with dates in ISO form and separate debit/credit amount columns.
type CIBCCreditParser struct{}

// FormatCIBCCredit identifies CIBC credit-card exports.
const FormatCIBCCredit = "cibc_credit"

const cibcDateFormat = "2006-01-02"

func (p *CIBCCreditParser) Format() string { return FormatCIBCCredit }

func (p *CIBCCreditParser) Parse(content string) ([]Row, error) {
	cr := csv.NewReader(strings.NewReader(content))
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading cibc csv: %w", err)
	}

	var rows []Row
	for i, rec := range records {
		rows = append(rows, p.parseRecord(i+1, rec))
	}
	return rows, nil
}

func (p *CIBCCreditParser) parseRecord(n int, rec []string) Row {
	raw := map[string]string{}
	for i, v := range rec {
		raw[fmt.Sprintf("col%d", i)] = v
	}
	if len(rec) != 5 {
		return rowErr(n, raw, fmt.Errorf("expected 5 columns, got %d", len(rec)))
	}

	dateStr, description, debit, credit, card := rec[0], rec[1], rec[2], rec[3], rec[4]
	raw = map[string]string{
		"date":        dateStr,
		"description": description,
		"debit":       debit,
		"credit":      credit,
		"card":        card,
	}

	txDate, err := time.Parse(cibcDateFormat, dateStr)
	if err != nil {
		return rowErr(n, raw, fmt.Errorf("parsing date %q: %w", dateStr, err))
	}

	description = strings.Trim(description, `"`)
	upper := strings.ToUpper(description)

	var (
		amountStr string
		txType    core.TransactionType
	)
	switch {
	case strings.TrimSpace(debit) != "":
		amountStr = debit
		txType = core.Expense
	case strings.TrimSpace(credit) != "":
		amountStr = credit
		// Card payments are money arriving from another account. The
		// ledger only creates transfer legs in pairs, so the row itself
		// is typed income and hinted at the transfer category.
		txType = core.Income
	default:
		return rowErr(n, raw, fmt.Errorf("row has neither debit nor credit amount"))
	}

	amount, err := core.ParseStatementAmount(amountStr)
	if err != nil {
		return rowErr(n, raw, fmt.Errorf("parsing amount %q: %w", amountStr, err))
	}

	return Row{
		RowNumber: n,
		Raw:       raw,
		Canonical: &core.ProcessedRow{
			TransactionDate: txDate,
			Amount:          amount,
			Currency:        "CAD",
			Type:            txType,
			Merchant:        firstToken(description),
			Description:     description,
		},
		CategoryHint: cibcCategoryHint(upper),
	}
}

// firstToken returns the first whitespace-delimited token of a
// description, which for card statements is usually the merchant.
func firstToken(description string) string {
	parts := strings.Fields(description)
	if len(parts) > 1 {
		return parts[0]
	}
	return ""
}

func cibcCategoryHint(upper string) string {
	switch {
	case strings.Contains(upper, "PAYMENT"):
		return "transfer"
	case strings.Contains(upper, "REFUND"):
		return "income_refund"
	case strings.Contains(upper, "COSTCO"):
		if strings.Contains(upper, "WHOLESALE") {
			return "shopping_grocery"
		}
		return "transport_fuel"
	case containsAny(upper, "T&T", "FOOD BASICS", "WALMART", "SOBEYS"):
		return "shopping_grocery"
	case strings.Contains(upper, "LCBO"), strings.Contains(upper, "RESTAURANT"):
		return "entertainment"
	case containsAny(upper, "GAS", "ESSO", "SHELL"):
		return "transport_fuel"
	case strings.Contains(upper, "INSURANCE"):
		return "healthcare_insurance"
	case containsAny(upper, "MEDICAL", "PHARMACY"):
		return "healthcare_medical"
	case containsAny(upper, "AMAZON", "SHOPPING"):
		return "shopping"
	}
	return "other"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
