package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"hospitalstats/internal/refdata"
)

// UnknownMetadata fills name/city/state for facilities that appear in the
// affiliation data but not in the directory. Such rows are retained:
// attribution without metadata is still a valid target.
const UnknownMetadata = "unknown"

// CodeCount is one entry of a result row's per-code breakdown.
type CodeCount struct {
	Code     string
	Services int64
}

// ResultRow is one ranked facility with its aggregated statistics.
// Immutable once produced.
type ResultRow struct {
	FacilityID      string
	Name            string
	City            string
	State           string
	TotalProcedures int64
	TotalPayments   decimal.Decimal
	NumPhysicians   int
	// AvgProceduresPerPhysician is zero when no physicians contributed.
	AvgProceduresPerPhysician float64
	// CodeBreakdown is ordered by services descending, code ascending on ties.
	CodeBreakdown []CodeCount
}

// breakdownTop caps how many codes the summary string spells out.
const breakdownTop = 5

// BreakdownSummary renders the per-code counts as a display string, e.g.
// "62270 (1,480), 62272 (210) (+3 more)".
func (r *ResultRow) BreakdownSummary() string {
	return summarizeBreakdown(r.CodeBreakdown)
}

func summarizeBreakdown(breakdown []CodeCount) string {
	var parts []string
	for i, cc := range breakdown {
		if i == breakdownTop {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", cc.Code, groupThousands(cc.Services)))
	}
	s := strings.Join(parts, ", ")
	if extra := len(breakdown) - breakdownTop; extra > 0 {
		s += fmt.Sprintf(" (+%d more)", extra)
	}
	return s
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		s = "-" + s
	}
	return s
}

func sortedBreakdown(perCode map[string]int64) []CodeCount {
	out := make([]CodeCount, 0, len(perCode))
	for code, n := range perCode {
		out = append(out, CodeCount{Code: code, Services: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Services != out[j].Services {
			return out[i].Services > out[j].Services
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// rank converts the accumulators into ordered result rows: directory
// metadata joined in, the minimum-procedures post-filter applied, and a
// deterministic sort (total procedures descending, facility ID ascending).
func rank(agg *Aggregator, dir *refdata.FacilityDirectory, minProcedures int64) []ResultRow {
	rows := make([]ResultRow, 0, len(agg.stats))
	for facID, acc := range agg.stats {
		if minProcedures > 0 && acc.procedures < minProcedures {
			continue
		}

		row := ResultRow{
			FacilityID:      facID,
			Name:            UnknownMetadata,
			City:            UnknownMetadata,
			State:           UnknownMetadata,
			TotalProcedures: acc.procedures,
			TotalPayments:   acc.payments,
			NumPhysicians:   len(acc.physicians),
			CodeBreakdown:   sortedBreakdown(acc.perCode),
		}
		if fac, ok := dir.Lookup(facID); ok {
			row.Name = fac.Name
			row.City = fac.City
			row.State = fac.State
		}
		if row.NumPhysicians > 0 {
			row.AvgProceduresPerPhysician =
				float64(row.TotalProcedures) / float64(row.NumPhysicians)
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalProcedures != rows[j].TotalProcedures {
			return rows[i].TotalProcedures > rows[j].TotalProcedures
		}
		return rows[i].FacilityID < rows[j].FacilityID
	})
	return rows
}
