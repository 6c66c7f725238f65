// Package export mirrors confirmed transactions to an external ledger
// sheet. The mirror is an observer; the database stays the source of
// truth.
package export

import (
	"context"

	"fintrack/internal/core"
)

// LedgerWriter appends committed transactions to the external mirror.
type LedgerWriter interface {
	AppendTransactions(ctx context.Context, txns []core.Transaction) error
}
