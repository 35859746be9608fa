package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hospitalstats/internal/query"
)

func TestMain(m *testing.M) {
	zap.ReplaceGlobals(zap.NewNop())
	os.Exit(m.Run())
}

func makeResultRows(n int) []query.ResultRow {
	rows := make([]query.ResultRow, n)
	for i := range rows {
		rows[i] = query.ResultRow{
			FacilityID:                fmt.Sprintf("F%03d", i),
			Name:                      fmt.Sprintf("HOSPITAL %d", i),
			City:                      "NEW YORK",
			State:                     "NY",
			TotalProcedures:           int64(1000 - i),
			TotalPayments:             decimal.NewFromInt(int64(100 * i)),
			NumPhysicians:             3,
			AvgProceduresPerPhysician: float64(1000-i) / 3,
			CodeBreakdown:             []query.CodeCount{{Code: "62270", Services: int64(1000 - i)}},
		}
	}
	return rows
}

// collect drains the stream, returning each raw batch.
func collect(t *testing.T, s *CSVStream) [][]byte {
	t.Helper()
	var chunks [][]byte
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
}

func TestResultStreamBatches(t *testing.T) {
	rows := makeResultRows(12)
	chunks := collect(t, NewResultStream(rows, 5))
	require.Len(t, chunks, 3) // 5 + 5 + 2

	// Concatenating every batch yields one well-formed CSV with a single
	// header and the full, untruncated result set.
	all := bytes.Join(chunks, nil)
	parsed, err := csv.NewReader(bytes.NewReader(all)).ReadAll()
	require.NoError(t, err)
	require.Len(t, parsed, 13) // header + 12 rows

	assert.Equal(t, "facility_id", parsed[0][0])
	assert.Equal(t, "code_breakdown", parsed[0][8])
	assert.Equal(t, "F000", parsed[1][0])
	assert.Equal(t, "1000", parsed[1][4])
	assert.Equal(t, "0.00", parsed[1][5])
	assert.Equal(t, "62270 (1,000)", parsed[1][8])
	assert.Equal(t, "F011", parsed[12][0])

	// later batches never repeat the header
	assert.False(t, bytes.Contains(chunks[1], []byte("facility_id")))
}

func TestResultStreamSingleBatch(t *testing.T) {
	chunks := collect(t, NewResultStream(makeResultRows(3), 0))
	require.Len(t, chunks, 1)
}

func TestResultStreamEmpty(t *testing.T) {
	chunks := collect(t, NewResultStream(nil, 5))
	require.Len(t, chunks, 1) // header-only batch
	parsed, err := csv.NewReader(bytes.NewReader(chunks[0])).ReadAll()
	require.NoError(t, err)
	require.Len(t, parsed, 1)
}

func TestResultStreamWriteTo(t *testing.T) {
	rows := makeResultRows(7)
	var direct bytes.Buffer
	n, err := NewResultStream(rows, 3).WriteTo(&direct)
	require.NoError(t, err)
	assert.Equal(t, int64(direct.Len()), n)

	all := bytes.Join(collect(t, NewResultStream(rows, 3)), nil)
	assert.Equal(t, all, direct.Bytes())
}

func TestPhysicianStream(t *testing.T) {
	rows := []query.PhysicianRow{
		{
			NPI:           "1111111111",
			TotalServices: 42,
			TotalPayments: decimal.RequireFromString("1234.5"),
			CodeBreakdown: []query.CodeCount{{Code: "62270", Services: 42}},
			PrimaryName:   "ALPHA MEDICAL CENTER",
			PrimaryCity:   "NEW YORK",
			PrimaryState:  "NY",
			HospitalNotes: "ALPHA MEDICAL CENTER (NY)",
		},
	}
	chunks := collect(t, NewPhysicianStream(rows, 0))
	require.Len(t, chunks, 1)

	parsed, err := csv.NewReader(bytes.NewReader(chunks[0])).ReadAll()
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "npi", parsed[0][0])
	assert.Equal(t, "1111111111", parsed[1][0])
	assert.Equal(t, "42", parsed[1][1])
	assert.Equal(t, "1234.50", parsed[1][2])
	assert.Equal(t, "ALPHA MEDICAL CENTER", parsed[1][3])
	assert.Equal(t, "62270 (42)", parsed[1][7])
}
