package scan

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hospitalstats/internal/errdefs"
)

func writeBillingCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "billing.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write billing CSV: %v", err)
	}
	return path
}

// drain reads every batch and returns the concatenated records plus the
// malformed total.
func drain(t *testing.T, s Scanner) ([]Record, int) {
	t.Helper()
	var all []Record
	malformed := 0
	for {
		batch, err := s.Next(context.Background())
		if err == io.EOF {
			return all, malformed
		}
		require.NoError(t, err)
		all = append(all, batch.Rows...)
		malformed += batch.Malformed
	}
}

const billingHeader = "Rndrng_NPI,Rndrng_Prvdr_State_Abrvtn,HCPCS_Cd,Tot_Srvcs,Avg_Mdcr_Pymt_Amt\n"

func TestCSVScannerProjection(t *testing.T) {
	path := writeBillingCSV(t, billingHeader+
		"1111111111,NY,62270,10,50.00\n"+
		"2222222222,ca,g0105,3,\"1,200.50\"\n")

	s, err := NewCSVScanner(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	rows, malformed := drain(t, s)
	require.Len(t, rows, 2)
	assert.Equal(t, 0, malformed)
	assert.Equal(t, int64(2), s.Rows())

	// code and state uppercased, avg payment expanded to a total
	assert.Equal(t, Record{NPI: "1111111111", Code: "62270", State: "NY",
		Services: 10, Payment: decimal.RequireFromString("500.00")}, rows[0])
	assert.Equal(t, "G0105", rows[1].Code)
	assert.Equal(t, "CA", rows[1].State)
	assert.True(t, rows[1].Payment.Equal(decimal.RequireFromString("3601.50")),
		"payment = %s", rows[1].Payment)
}

func TestCSVScannerPrefersTotalColumn(t *testing.T) {
	path := writeBillingCSV(t,
		"NPI,State,HCPCS_Cd,Tot_Srvcs,Avg_Mdcr_Pymt_Amt,Tot_Mdcr_Pymt_Amt\n"+
			"1111111111,NY,62270,10,999.99,412.34\n"+
			"2222222222,NY,62270,2,25.00,\n")

	s, err := NewCSVScanner(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	rows, _ := drain(t, s)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Payment.Equal(decimal.RequireFromString("412.34")))
	// blank total falls back to avg × services
	assert.True(t, rows[1].Payment.Equal(decimal.RequireFromString("50.00")))
}

func TestCSVScannerMalformedRows(t *testing.T) {
	path := writeBillingCSV(t, billingHeader+
		",NY,62270,10,50.00\n"+ // blank NPI
		"1111111111,NY,,10,50.00\n"+ // blank code
		"2222222222,NY,62270,-5,50.00\n"+ // negative services
		"3333333333,NY,62270,abc,50.00\n"+ // unparseable count kept as zero
		"4444444444,NY,62270,12.6,50.00\n") // decimal count rounds

	s, err := NewCSVScanner(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	rows, malformed := drain(t, s)
	assert.Equal(t, 3, malformed)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(0), rows[0].Services)
	assert.Equal(t, int64(13), rows[1].Services)
	assert.Equal(t, int64(5), s.Rows())
}

func TestCSVScannerBatching(t *testing.T) {
	content := billingHeader
	for i := 0; i < 7; i++ {
		content += "1111111111,NY,62270,1,10.00\n"
	}
	path := writeBillingCSV(t, content)

	s, err := NewCSVScanner(path, Options{BatchSize: 3})
	require.NoError(t, err)
	defer s.Close()

	var sizes []int
	for {
		batch, err := s.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(batch.Rows))
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.False(t, s.Exhausted())
}

func TestCSVScannerRowBudget(t *testing.T) {
	content := billingHeader
	for i := 0; i < 10; i++ {
		content += "1111111111,NY,62270,1,10.00\n"
	}
	path := writeBillingCSV(t, content)

	s, err := NewCSVScanner(path, Options{BatchSize: 4, RowBudget: 6})
	require.NoError(t, err)
	defer s.Close()

	rows, _ := drain(t, s)
	assert.Len(t, rows, 6) // budget is exact, not rounded to a batch boundary
	assert.Equal(t, int64(6), s.Rows())
	assert.True(t, s.Exhausted())
}

func TestCSVScannerBudgetAtEOF(t *testing.T) {
	content := billingHeader + "1111111111,NY,62270,1,10.00\n"
	path := writeBillingCSV(t, content)

	s, err := NewCSVScanner(path, Options{RowBudget: 10})
	require.NoError(t, err)
	defer s.Close()

	rows, _ := drain(t, s)
	assert.Len(t, rows, 1)
	// The file ended before the budget did: not an early exit.
	assert.False(t, s.Exhausted())
}

func TestCSVScannerMissingFile(t *testing.T) {
	_, err := NewCSVScanner(filepath.Join(t.TempDir(), "nope.csv"), Options{})
	require.ErrorIs(t, err, errdefs.ErrMissingSourceFile)
}

func TestCSVScannerBadHeader(t *testing.T) {
	path := writeBillingCSV(t, "a,b,c\n1,2,3\n")
	_, err := NewCSVScanner(path, Options{})
	assert.Error(t, err)
}

func TestCSVScannerCancelledContext(t *testing.T) {
	path := writeBillingCSV(t, billingHeader+"1111111111,NY,62270,1,10.00\n")
	s, err := NewCSVScanner(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
