// Package query implements the scan→filter→join→aggregate→rank pipeline that
// turns billing batches into ranked facility statistics.
package query

import (
	"hospitalstats/internal/columns"
	"hospitalstats/internal/refdata"
	"hospitalstats/internal/scan"
)

// Index holds the per-query lookup structures: code and state membership
// sets for O(1) predicate tests and the physician→facility join map.
// Built once per query, independent of billing-file size; no I/O.
type Index struct {
	codes  map[string]struct{}
	states map[string]struct{}
	aff    *refdata.AffiliationMap
}

// BuildIndex normalizes the requested codes and states and binds the
// affiliation snapshot. An empty state set matches every state.
func BuildIndex(codes, states []string, aff *refdata.AffiliationMap) *Index {
	ix := &Index{
		codes:  make(map[string]struct{}),
		states: make(map[string]struct{}),
		aff:    aff,
	}
	for _, c := range columns.NormalizeCodes(codes) {
		ix.codes[c] = struct{}{}
	}
	for _, s := range columns.NormalizeStates(states) {
		ix.states[s] = struct{}{}
	}
	return ix
}

// Empty reports whether no valid codes were requested. An empty code set
// matches nothing, so the pipeline can skip the scan entirely.
func (ix *Index) Empty() bool { return len(ix.codes) == 0 }

func (ix *Index) matchCode(code string) bool {
	_, ok := ix.codes[code]
	return ok
}

func (ix *Index) matchState(state string) bool {
	if len(ix.states) == 0 {
		return true
	}
	_, ok := ix.states[state]
	return ok
}

// Facilities resolves a physician to its affiliated facility IDs, nil when
// the physician is unaffiliated or unknown.
func (ix *Index) Facilities(npi string) []string {
	return ix.aff.Facilities(npi)
}

// FilterBatch keeps the rows matching the code and state predicates,
// filtering in place before any join work. Row order within the batch is
// irrelevant to the result: aggregation is commutative over rows.
func (ix *Index) FilterBatch(rows []scan.Record) []scan.Record {
	kept := rows[:0]
	for i := range rows {
		if ix.matchCode(rows[i].Code) && ix.matchState(rows[i].State) {
			kept = append(kept, rows[i])
		}
	}
	return kept
}
