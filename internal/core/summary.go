package core

import "github.com/shopspring/decimal"

// CategoryTotal aggregates committed transactions for one category.
type CategoryTotal struct {
	CategoryID string
	Name       string
	Total      decimal.Decimal
	Count      int
	Percent    float64
}

// CategorySummary is a per-category breakdown over a date range.
type CategorySummary struct {
	Total      decimal.Decimal
	ByCategory []CategoryTotal
}

// FillPercentages computes each category's share of the grand total.
// When the total is zero every item gets 0%.
func (s *CategorySummary) FillPercentages() {
	if s.Total.IsZero() {
		for i := range s.ByCategory {
			s.ByCategory[i].Percent = 0
		}
		return
	}
	for i := range s.ByCategory {
		pct, _ := s.ByCategory[i].Total.Div(s.Total).Mul(decimal.NewFromInt(100)).Float64()
		s.ByCategory[i].Percent = pct
	}
}
