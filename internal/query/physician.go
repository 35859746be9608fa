package query

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hospitalstats/internal/refdata"
	"hospitalstats/internal/scan"
)

// PhysicianRow is one ranked physician with per-code totals and a summary of
// the hospitals the physician is affiliated with. Unaffiliated physicians
// are retained here — the hospital pipeline drops them, this one does not.
type PhysicianRow struct {
	NPI           string
	TotalServices int64
	TotalPayments decimal.Decimal
	CodeBreakdown []CodeCount
	PrimaryName   string
	PrimaryCity   string
	PrimaryState  string
	HospitalNotes string
}

// BreakdownSummary renders the physician's per-code counts for display.
func (r *PhysicianRow) BreakdownSummary() string {
	return summarizeBreakdown(r.CodeBreakdown)
}

// PhysicianOptions configure one physician-level query.
type PhysicianOptions struct {
	Codes  []string
	States []string
	// FacilityID, when set, restricts the pass to physicians affiliated
	// with that facility.
	FacilityID  string
	MinServices int64
	PreviewRows int
}

// PhysicianResult is the outcome of one physician query.
type PhysicianResult struct {
	Rows          []PhysicianRow
	Preview       []PhysicianRow
	Truncated     bool
	Partial       bool
	RowsScanned   int64
	MalformedRows int64
}

type physicianAcc struct {
	services int64
	payments decimal.Decimal
	perCode  map[string]int64
}

// RunPhysicianQuery is the sibling pipeline: the same scan and filter pass,
// aggregated per physician instead of per facility. No join is required to
// accumulate; affiliation and directory snapshots only decorate the output.
func RunPhysicianQuery(
	ctx context.Context,
	src scan.Scanner,
	aff *refdata.AffiliationMap,
	dir *refdata.FacilityDirectory,
	opts PhysicianOptions,
) (*PhysicianResult, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "query"))

	ix := BuildIndex(opts.Codes, opts.States, aff)
	res := &PhysicianResult{}
	if ix.Empty() {
		return finishPhysician(res, opts), nil
	}

	// Facility restriction: membership set of the facility's physicians.
	var member map[string]bool
	if opts.FacilityID != "" {
		member = make(map[string]bool)
		// The affiliation map is keyed by physician, so invert once here;
		// reference data is small relative to the billing extract.
		for _, row := range invertForFacility(aff, opts.FacilityID) {
			member[row] = true
		}
		if len(member) == 0 {
			return finishPhysician(res, opts), nil
		}
	}

	stats := make(map[string]*physicianAcc)
	for {
		if ctx.Err() != nil {
			res.Partial = true
			break
		}
		batch, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				res.Partial = true
				break
			}
			return nil, eris.Wrap(err, "query: scan billing extract")
		}
		res.MalformedRows += int64(batch.Malformed)

		for _, rec := range ix.FilterBatch(batch.Rows) {
			if member != nil && !member[rec.NPI] {
				continue
			}
			acc, ok := stats[rec.NPI]
			if !ok {
				acc = &physicianAcc{payments: decimal.Zero, perCode: make(map[string]int64)}
				stats[rec.NPI] = acc
			}
			acc.services += rec.Services
			acc.payments = acc.payments.Add(rec.Payment)
			acc.perCode[rec.Code] += rec.Services
		}
	}
	res.RowsScanned = src.Rows()
	if src.Exhausted() {
		res.Partial = true
	}

	res.Rows = make([]PhysicianRow, 0, len(stats))
	for npi, acc := range stats {
		if opts.MinServices > 0 && acc.services < opts.MinServices {
			continue
		}
		row := PhysicianRow{
			NPI:           npi,
			TotalServices: acc.services,
			TotalPayments: acc.payments,
			CodeBreakdown: sortedBreakdown(acc.perCode),
		}
		attachHospitals(&row, aff, dir)
		res.Rows = append(res.Rows, row)
	}
	sort.Slice(res.Rows, func(i, j int) bool {
		if res.Rows[i].TotalServices != res.Rows[j].TotalServices {
			return res.Rows[i].TotalServices > res.Rows[j].TotalServices
		}
		return res.Rows[i].NPI < res.Rows[j].NPI
	})

	log.Info("physician query complete",
		zap.Int64("rows_scanned", res.RowsScanned),
		zap.Int("physicians", len(res.Rows)),
		zap.Bool("partial", res.Partial),
		zap.Duration("elapsed", time.Since(start)))
	return finishPhysician(res, opts), nil
}

func finishPhysician(res *PhysicianResult, opts PhysicianOptions) *PhysicianResult {
	n := opts.PreviewRows
	if n <= 0 {
		n = DefaultPreviewRows
	}
	if len(res.Rows) > n {
		res.Preview = res.Rows[:n]
		res.Truncated = true
	} else {
		res.Preview = res.Rows
	}
	return res
}

func invertForFacility(aff *refdata.AffiliationMap, facilityID string) []string {
	var npis []string
	aff.Each(func(npi string, facilities []string) {
		for _, fac := range facilities {
			if fac == facilityID {
				npis = append(npis, npi)
				return
			}
		}
	})
	return npis
}

// summaryMaxLen caps the hospital summary string for display.
const summaryMaxLen = 140

// attachHospitals decorates a physician row with its affiliated hospitals:
// primary is the first by name then state, and the summary lists them all as
// "Name (ST), …" capped at summaryMaxLen.
func attachHospitals(row *PhysicianRow, aff *refdata.AffiliationMap, dir *refdata.FacilityDirectory) {
	type hosp struct{ name, city, state string }
	var hospitals []hosp
	seen := make(map[hosp]bool)
	for _, facID := range aff.Facilities(row.NPI) {
		fac, ok := dir.Lookup(facID)
		if !ok || fac.Name == "" {
			continue
		}
		h := hosp{name: fac.Name, city: fac.City, state: fac.State}
		if seen[h] {
			continue
		}
		seen[h] = true
		hospitals = append(hospitals, h)
	}
	if len(hospitals) == 0 {
		return
	}
	sort.Slice(hospitals, func(i, j int) bool {
		if hospitals[i].name != hospitals[j].name {
			return hospitals[i].name < hospitals[j].name
		}
		return hospitals[i].state < hospitals[j].state
	})

	row.PrimaryName = hospitals[0].name
	row.PrimaryCity = hospitals[0].city
	row.PrimaryState = hospitals[0].state

	var parts []string
	for _, h := range hospitals {
		if h.state != "" {
			parts = append(parts, h.name+" ("+h.state+")")
		} else {
			parts = append(parts, h.name)
		}
	}
	summary := strings.Join(parts, ", ")
	if len(summary) > summaryMaxLen {
		summary = summary[:summaryMaxLen-3] + "..."
	}
	row.HospitalNotes = summary
}
