package query

import (
	"github.com/shopspring/decimal"

	"hospitalstats/internal/scan"
)

// accumulator is the running total for one facility. Created lazily on the
// first contributing row, then only ever grows for the rest of the scan.
type accumulator struct {
	procedures int64
	payments   decimal.Decimal
	physicians map[string]struct{}
	perCode    map[string]int64
}

func newAccumulator() *accumulator {
	return &accumulator{
		payments:   decimal.Zero,
		physicians: make(map[string]struct{}),
		perCode:    make(map[string]int64),
	}
}

func (a *accumulator) add(rec *scan.Record) {
	a.procedures += rec.Services
	a.payments = a.payments.Add(rec.Payment)
	a.physicians[rec.NPI] = struct{}{}
	a.perCode[rec.Code] += rec.Services
}

// Aggregator owns the per-facility accumulators for one query execution.
// It is single-goroutine; the parallel path gives each worker its own
// Aggregator and merges afterwards.
type Aggregator struct {
	stats map[string]*accumulator
}

func NewAggregator() *Aggregator {
	return &Aggregator{stats: make(map[string]*accumulator)}
}

// Absorb attributes one filtered row to each of its resolved facilities.
// A multi-affiliated physician contributes the row's full, unsplit measures
// to every facility — volume is relevant to each hospital the physician
// works at, so cross-facility totals intentionally exceed the row total.
// An empty facility list drops the row from hospital-level aggregation.
func (a *Aggregator) Absorb(rec *scan.Record, facilities []string) {
	for _, fac := range facilities {
		acc, ok := a.stats[fac]
		if !ok {
			acc = newAccumulator()
			a.stats[fac] = acc
		}
		acc.add(rec)
	}
}

// AbsorbBatch joins and attributes every row of a filtered batch.
func (a *Aggregator) AbsorbBatch(ix *Index, rows []scan.Record) {
	for i := range rows {
		a.Absorb(&rows[i], ix.Facilities(rows[i].NPI))
	}
}

// Merge folds other into a: numeric addition and set union per facility.
// Merging in any order yields the same totals.
func (a *Aggregator) Merge(other *Aggregator) {
	for fac, src := range other.stats {
		dst, ok := a.stats[fac]
		if !ok {
			a.stats[fac] = src
			continue
		}
		dst.procedures += src.procedures
		dst.payments = dst.payments.Add(src.payments)
		for npi := range src.physicians {
			dst.physicians[npi] = struct{}{}
		}
		for code, n := range src.perCode {
			dst.perCode[code] += n
		}
	}
}

// Facilities returns the number of active accumulators.
func (a *Aggregator) Facilities() int { return len(a.stats) }
