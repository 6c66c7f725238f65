// Package statement decodes raw bank-statement exports into canonical
// line items. Each supported bank/account-type combination has its own
// Parser; the Registry resolves one from an explicit format id or from
// content sniffing.
package statement

import (
	"fmt"
	"strings"
	"time"

	"fintrack/internal/core"
)

// Row is one parsed statement line. Rows with a shape, date or amount
// problem carry Err and a nil Canonical; a bad row never aborts the file.
type Row struct {
	RowNumber    int
	Raw          map[string]string
	Canonical    *core.ProcessedRow
	CategoryHint string // provisional system-category tag, may be overridden by the matcher
	Err          error
}

// Parser converts statement content into ordered canonical rows.
type Parser interface {
	Parse(content string) ([]Row, error)
	Format() string
}

// Registry holds parsers keyed by format id.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
}

// Get returns the parser for format.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrFormatUnsupported, format)
	}
	return p, nil
}

// Detect inspects the content and returns the format id of the parser
// that can read it. An unrecognized file is a user-facing error, never a
// silent guess.
func (r *Registry) Detect(content string) (string, error) {
	firstLine := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		firstLine = content[:i]
	}
	firstLine = strings.TrimSpace(firstLine)

	// RBC exports carry a fixed header signature.
	if strings.HasPrefix(firstLine, `"Account Type","Account Number"`) ||
		strings.HasPrefix(firstLine, "Account Type,Account Number") {
		return FormatRBCChecking, nil
	}

	// CIBC credit exports have no header; data rows lead with an ISO date.
	if fields := strings.SplitN(firstLine, ",", 2); len(fields) > 0 {
		if _, err := time.Parse("2006-01-02", strings.Trim(fields[0], `"`)); err == nil {
			return FormatCIBCCredit, nil
		}
	}

	return "", core.ErrFormatUnsupported
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&CIBCCreditParser{})
	r.Register(&RBCCheckingParser{})
	return r
}

func rowErr(n int, raw map[string]string, err error) Row {
	return Row{RowNumber: n, Raw: raw, Err: err}
}
