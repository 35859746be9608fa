// Package export re-materializes a full, already-computed result set as
// bounded output batches. It never re-runs the aggregation.
package export

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"hospitalstats/internal/query"
)

// DefaultBatchRows is the number of result rows serialized per output batch.
// Export memory is bounded by this, independent of result-set size.
const DefaultBatchRows = 5_000

// CSVStream serializes result rows as CSV in fixed batches. The header is
// emitted with the first batch only, so concatenating every batch yields one
// well-formed CSV reproducing the full, untruncated result set.
type CSVStream struct {
	header []string
	record func(i int) []string
	total  int
	pos    int
	batch  int
}

func newStream(header []string, total, batchSize int, record func(i int) []string) *CSVStream {
	if batchSize <= 0 {
		batchSize = DefaultBatchRows
	}
	return &CSVStream{header: header, record: record, total: total, batch: batchSize}
}

// NewResultStream streams facility result rows.
func NewResultStream(rows []query.ResultRow, batchSize int) *CSVStream {
	header := []string{
		"facility_id", "hospital_name", "hospital_city", "hospital_state",
		"total_procedures", "total_payments", "num_physicians",
		"avg_procedures_per_physician", "code_breakdown",
	}
	return newStream(header, len(rows), batchSize, func(i int) []string {
		r := &rows[i]
		return []string{
			r.FacilityID,
			r.Name,
			r.City,
			r.State,
			strconv.FormatInt(r.TotalProcedures, 10),
			r.TotalPayments.StringFixed(2),
			strconv.Itoa(r.NumPhysicians),
			strconv.FormatFloat(r.AvgProceduresPerPhysician, 'f', 2, 64),
			r.BreakdownSummary(),
		}
	})
}

// NewPhysicianStream streams physician result rows, the sibling pipeline's
// analogue of NewResultStream.
func NewPhysicianStream(rows []query.PhysicianRow, batchSize int) *CSVStream {
	header := []string{
		"npi", "total_services_selected_codes", "total_payments_selected_codes",
		"primary_hospital_name", "primary_hospital_city", "primary_hospital_state",
		"hospital_summary", "code_breakdown",
	}
	return newStream(header, len(rows), batchSize, func(i int) []string {
		r := &rows[i]
		return []string{
			r.NPI,
			strconv.FormatInt(r.TotalServices, 10),
			r.TotalPayments.StringFixed(2),
			r.PrimaryName,
			r.PrimaryCity,
			r.PrimaryState,
			r.HospitalNotes,
			r.BreakdownSummary(),
		}
	})
}

// Next returns the next serialized batch, or io.EOF when the stream is
// drained. An empty result set still yields one header-only batch.
func (s *CSVStream) Next() ([]byte, error) {
	if s.pos > s.total || (s.pos == s.total && s.pos > 0) {
		return nil, io.EOF
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if s.pos == 0 {
		if err := w.Write(s.header); err != nil {
			return nil, eris.Wrap(err, "export: write header")
		}
	}

	end := s.pos + s.batch
	if end > s.total {
		end = s.total
	}
	for ; s.pos < end; s.pos++ {
		if err := w.Write(s.record(s.pos)); err != nil {
			return nil, eris.Wrap(err, "export: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "export: flush batch")
	}

	if s.total == 0 {
		// Mark the header-only batch as delivered.
		s.pos = 1
		s.total = 1
	}
	return buf.Bytes(), nil
}

// WriteTo drains the stream into w, batch by batch.
func (s *CSVStream) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, eris.Wrap(err, "export: write output")
		}
	}
}
