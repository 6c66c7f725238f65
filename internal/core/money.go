// Package core holds the domain model of the import pipeline.
//
// This file contains helpers for parsing monetary amounts from bank
// statement text into exact decimals.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseStatementAmount converts a statement amount string to a
// non-negative decimal magnitude.
//
// It tolerates thousands separators, surrounding whitespace, a leading
// currency sign and accounting-style parentheses for negatives. The sign
// is discarded: direction is carried by the transaction type, never by
// the stored amount.
//
// Examples:
//
//	ParseStatementAmount("1,234.56") -> 1234.56, nil
//	ParseStatementAmount("(45.00)")  -> 45.00, nil
//	ParseStatementAmount("-45.00")   -> 45.00, nil
func ParseStatementAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Abs(), nil
}
