package scan

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"hospitalstats/internal/columns"
	"hospitalstats/internal/errdefs"
)

// CSVScanner streams a billing extract CSV. The header is resolved once into
// logical column positions; data rows project only those columns.
type CSVScanner struct {
	file   *os.File
	csv    *csv.Reader
	cols   columns.Billing
	opts   Options
	rows   int64
	capped bool
	done   bool
}

// NewCSVScanner opens path and resolves its header. A missing file is a
// typed, fatal failure; a header missing required columns fails immediately
// rather than mid-scan.
func NewCSVScanner(path string, opts Options) (*CSVScanner, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(errdefs.ErrMissingSourceFile, "scan: open %s", path)
		}
		return nil, eris.Wrapf(err, "scan: open %s", path)
	}

	buf := bufio.NewReaderSize(file, 256*1024)
	if bom, err := buf.Peek(3); err == nil && len(bom) >= 3 &&
		bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		buf.Discard(3)
	}

	reader := csv.NewReader(buf)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		file.Close()
		return nil, eris.Wrapf(err, "scan: read header of %s", path)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	cols, err := columns.ResolveBilling(header)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &CSVScanner{file: file, csv: reader, cols: cols, opts: opts}, nil
}

func (s *CSVScanner) Rows() int64     { return s.rows }
func (s *CSVScanner) Exhausted() bool { return s.capped }

func (s *CSVScanner) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Next reads up to one batch of rows. Batches are clipped to the remaining
// row budget so the cap is exact.
func (s *CSVScanner) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}

	limit := s.opts.batchSize()
	if s.opts.RowBudget > 0 {
		remaining := s.opts.RowBudget - s.rows
		if remaining <= 0 {
			s.capped = true
			return nil, io.EOF
		}
		if remaining < int64(limit) {
			limit = int(remaining)
		}
	}

	batch := &Batch{Rows: make([]Record, 0, limit)}
	for len(batch.Rows)+batch.Malformed < limit {
		row, err := s.csv.Read()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			s.rows++
			batch.Malformed++
			continue
		}
		s.rows++

		// Skip blank separator rows without charging the batch.
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}

		rec, ok := s.project(row)
		if !ok {
			batch.Malformed++
			continue
		}
		batch.Rows = append(batch.Rows, rec)
	}

	if s.opts.RowBudget > 0 && s.rows >= s.opts.RowBudget && !s.done {
		s.capped = true
	}
	if len(batch.Rows) == 0 && batch.Malformed == 0 && s.done {
		return nil, io.EOF
	}
	return batch, nil
}

// project materializes one logical record from a raw row. Only the resolved
// columns are touched; everything else stays in the csv reader's buffer.
func (s *CSVScanner) project(row []string) (Record, bool) {
	at := func(idx int) string {
		if idx >= 0 && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	rec := Record{
		NPI:   at(s.cols.NPI),
		Code:  strings.ToUpper(at(s.cols.Code)),
		State: strings.ToUpper(at(s.cols.State)),
	}
	if rec.NPI == "" || rec.Code == "" {
		return rec, false
	}

	services, ok := parseCount(at(s.cols.Services))
	if !ok {
		return rec, false
	}
	rec.Services = services

	switch {
	case s.cols.TotalPayment >= 0 && at(s.cols.TotalPayment) != "":
		rec.Payment = parseMoney(at(s.cols.TotalPayment))
	case s.cols.AvgPayment >= 0:
		// No total column: total ≈ average payment × services.
		rec.Payment = parseMoney(at(s.cols.AvgPayment)).Mul(decimal.NewFromInt(services))
	default:
		rec.Payment = decimal.Zero
	}
	return rec, true
}
