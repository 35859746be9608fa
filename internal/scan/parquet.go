package scan

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"hospitalstats/internal/errdefs"
)

// parquetRow is the projected read schema for parquet billing extracts.
// The generic reader materializes only these columns; anything else in the
// file is never decoded.
type parquetRow struct {
	NPI      string  `parquet:"npi,optional"`
	Code     string  `parquet:"code,optional"`
	State    string  `parquet:"state,optional"`
	Services float64 `parquet:"services,optional"`
	Payment  float64 `parquet:"payment,optional"`
}

// ParquetScanner streams a billing extract that has been converted to
// parquet, reading fixed row buffers through the same Scanner contract as
// the CSV path.
type ParquetScanner struct {
	file   *os.File
	reader *parquet.GenericReader[parquetRow]
	opts   Options
	buf    []parquetRow
	rows   int64
	capped bool
	done   bool
}

// parquetReadBuffer caps the per-read buffer so a large batch size does not
// translate into a single huge decode.
const parquetReadBuffer = 8192

func NewParquetScanner(path string, opts Options) (*ParquetScanner, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(errdefs.ErrMissingSourceFile, "scan: open %s", path)
		}
		return nil, eris.Wrapf(err, "scan: open %s", path)
	}

	size := opts.batchSize()
	if size > parquetReadBuffer {
		size = parquetReadBuffer
	}
	return &ParquetScanner{
		file:   file,
		reader: parquet.NewGenericReader[parquetRow](file),
		opts:   opts,
		buf:    make([]parquetRow, size),
	}, nil
}

func (s *ParquetScanner) Rows() int64     { return s.rows }
func (s *ParquetScanner) Exhausted() bool { return s.capped }

func (s *ParquetScanner) Close() error {
	if s.reader != nil {
		s.reader.Close()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func (s *ParquetScanner) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}

	limit := int64(s.opts.batchSize())
	if s.opts.RowBudget > 0 {
		remaining := s.opts.RowBudget - s.rows
		if remaining <= 0 {
			s.capped = true
			return nil, io.EOF
		}
		if remaining < limit {
			limit = remaining
		}
	}

	batch := &Batch{Rows: make([]Record, 0, limit)}
	var read int64
	for read < limit {
		want := limit - read
		buf := s.buf
		if want < int64(len(buf)) {
			buf = buf[:want]
		}

		n, err := s.reader.Read(buf)
		for i := 0; i < n; i++ {
			rec, ok := convertParquetRow(&buf[i])
			if !ok {
				batch.Malformed++
				continue
			}
			batch.Rows = append(batch.Rows, rec)
		}
		read += int64(n)
		s.rows += int64(n)

		if err != nil {
			if err == io.EOF {
				s.done = true
				break
			}
			return nil, eris.Wrap(err, "scan: read parquet")
		}
	}

	if s.opts.RowBudget > 0 && s.rows >= s.opts.RowBudget && !s.done {
		s.capped = true
	}
	if read == 0 && s.done {
		return nil, io.EOF
	}
	return batch, nil
}

func convertParquetRow(row *parquetRow) (Record, bool) {
	rec := Record{
		NPI:   strings.TrimSpace(row.NPI),
		Code:  strings.ToUpper(strings.TrimSpace(row.Code)),
		State: strings.ToUpper(strings.TrimSpace(row.State)),
	}
	if rec.NPI == "" || rec.Code == "" || row.Services < 0 {
		return rec, false
	}
	rec.Services = int64(row.Services + 0.5)
	rec.Payment = decimal.NewFromFloat(row.Payment)
	return rec, true
}
