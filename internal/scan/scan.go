// Package scan reads the large billing extract sequentially in fixed-size
// batches, materializing only the columns the query needs. Scanners are
// single-pass and finite; restarting means reopening the source.
package scan

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultBatchSize balances I/O efficiency against peak memory. It is a
// tuning knob, not a correctness parameter: any positive batch size must
// produce identical aggregates.
const DefaultBatchSize = 500_000

// Record is one projected billing row. It lives only for the duration of its
// batch and is never persisted.
type Record struct {
	NPI      string
	Code     string
	State    string
	Services int64
	Payment  decimal.Decimal
}

// Batch is one fixed-size slice of the billing extract.
type Batch struct {
	Rows      []Record
	Malformed int
}

// Scanner yields billing batches until io.EOF. The only suspension point is
// "yield next batch" — a batch is always processed to completion before the
// next is requested.
type Scanner interface {
	// Next returns the next batch, io.EOF at end of input, or the context
	// error if ctx is done. Row budget exhaustion also ends the stream.
	Next(ctx context.Context) (*Batch, error)
	// Rows reports the cumulative number of data rows scanned, matched or not.
	Rows() int64
	// Exhausted reports whether the row budget ended the scan before EOF.
	Exhausted() bool
	Close() error
}

// Options configure a scanner.
type Options struct {
	// BatchSize is the number of rows per batch; DefaultBatchSize if <= 0.
	BatchSize int
	// RowBudget caps the cumulative rows scanned; 0 means unlimited. When
	// the cap is reached the scan stops and the caller must surface the
	// result as partial.
	RowBudget int64
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// parseCount reads a service count. Extracts occasionally write counts as
// decimals ("12.0"); those round to the nearest integer. Unparseable values
// coerce to zero, matching how the upstream extracts are consumed.
func parseCount(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, true
	}
	if f < 0 {
		return 0, false
	}
	return int64(f + 0.5), true
}

// parseMoney reads a payment amount, tolerating commas and dollar signs.
// Unparseable or empty values coerce to zero.
func parseMoney(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "$", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
