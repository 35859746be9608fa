package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupThousands(t *testing.T) {
	cases := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-1234:    "-1,234",
		10000000: "10,000,000",
	}
	for n, want := range cases {
		assert.Equal(t, want, groupThousands(n), "n=%d", n)
	}
}

func TestSortedBreakdown(t *testing.T) {
	got := sortedBreakdown(map[string]int64{
		"G0105": 50,
		"62272": 200,
		"62270": 200, // ties on services, breaks on code
		"71045": 10,
	})
	want := []CodeCount{
		{Code: "62270", Services: 200},
		{Code: "62272", Services: 200},
		{Code: "G0105", Services: 50},
		{Code: "71045", Services: 10},
	}
	assert.Equal(t, want, got)
}

func TestBreakdownSummary(t *testing.T) {
	row := ResultRow{CodeBreakdown: []CodeCount{
		{Code: "62270", Services: 1480},
		{Code: "62272", Services: 210},
	}}
	assert.Equal(t, "62270 (1,480), 62272 (210)", row.BreakdownSummary())
}

func TestBreakdownSummaryOverflow(t *testing.T) {
	var breakdown []CodeCount
	for _, c := range []string{"A1", "B2", "C3", "D4", "E5", "F6", "G7"} {
		breakdown = append(breakdown, CodeCount{Code: c, Services: 1000})
	}
	got := summarizeBreakdown(breakdown)
	assert.Equal(t, "A1 (1,000), B2 (1,000), C3 (1,000), D4 (1,000), E5 (1,000) (+2 more)", got)
}

func TestBreakdownSummaryEmpty(t *testing.T) {
	assert.Equal(t, "", summarizeBreakdown(nil))
}

func TestRankZeroPhysicianGuard(t *testing.T) {
	// Cannot arise from Absorb (every row carries an NPI), but rank must not
	// divide by zero if it ever does.
	agg := NewAggregator()
	agg.stats["F1"] = newAccumulator()
	agg.stats["F1"].procedures = 10

	rows := rank(agg, nil, 0)
	assert.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].NumPhysicians)
	assert.Equal(t, 0.0, rows[0].AvgProceduresPerPhysician)
}
