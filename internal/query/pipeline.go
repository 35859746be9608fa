package query

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hospitalstats/internal/refdata"
	"hospitalstats/internal/scan"
)

// DefaultPreviewRows bounds the interactive preview; the full ordered set is
// always retained for export.
const DefaultPreviewRows = 250

// Options configure one hospital query.
type Options struct {
	Codes  []string
	States []string
	// MinProcedures drops facilities below the threshold after aggregation;
	// 0 means no filter.
	MinProcedures int64
	// PreviewRows truncates Result.Preview; DefaultPreviewRows if <= 0.
	PreviewRows int
	// Workers > 1 scans batches in parallel, each worker holding a private
	// accumulator map merged before ranking. Results are identical to the
	// serial path.
	Workers int
}

func (o Options) previewRows() int {
	if o.PreviewRows <= 0 {
		return DefaultPreviewRows
	}
	return o.PreviewRows
}

// Result is the outcome of one hospital query.
type Result struct {
	// Rows is the full filtered, ordered result set.
	Rows []ResultRow
	// Preview is Rows truncated to the preview size.
	Preview []ResultRow
	// Truncated reports whether Preview is shorter than Rows.
	Truncated bool
	// Partial reports that the scan ended before EOF (row budget or
	// cancellation) and totals may be incomplete. Never an error.
	Partial bool
	// Degraded reports that no affiliation data was available, so every row
	// was unattributable and the result is empty by construction.
	Degraded bool
	// RowsScanned counts billing rows read, matched or not.
	RowsScanned int64
	// MalformedRows counts skipped unparseable rows.
	MalformedRows int64
}

// RunHospitalQuery executes the full pipeline over an opened billing scanner
// using the injected reference snapshots. The scanner is consumed but not
// closed. A nil directory degrades metadata to "unknown"; a nil affiliation
// map disables attribution entirely.
func RunHospitalQuery(
	ctx context.Context,
	src scan.Scanner,
	aff *refdata.AffiliationMap,
	dir *refdata.FacilityDirectory,
	opts Options,
) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "query"))

	ix := BuildIndex(opts.Codes, opts.States, aff)
	res := &Result{}

	if ix.Empty() {
		return finish(res, opts), nil
	}
	if aff.Physicians() == 0 {
		// No affiliation data: every row would be unattributable, so the
		// hospital-level result is empty regardless of the scan.
		res.Degraded = true
		log.Warn("no affiliation data, hospital attribution disabled")
		return finish(res, opts), nil
	}

	agg := NewAggregator()
	var err error
	if opts.Workers > 1 {
		err = scanParallel(ctx, src, ix, agg, opts.Workers, res)
	} else {
		err = scanSerial(ctx, src, ix, agg, res)
	}
	if err != nil {
		return nil, err
	}
	if src.Exhausted() {
		res.Partial = true
	}

	res.Rows = rank(agg, dir, opts.MinProcedures)
	log.Info("hospital query complete",
		zap.Int64("rows_scanned", res.RowsScanned),
		zap.Int64("malformed", res.MalformedRows),
		zap.Int("facilities", len(res.Rows)),
		zap.Bool("partial", res.Partial),
		zap.Duration("elapsed", time.Since(start)))
	return finish(res, opts), nil
}

func finish(res *Result, opts Options) *Result {
	n := opts.previewRows()
	if len(res.Rows) > n {
		res.Preview = res.Rows[:n]
		res.Truncated = true
	} else {
		res.Preview = res.Rows
	}
	return res
}

// scanSerial is the baseline single-goroutine loop: pull a batch, filter,
// join, aggregate, repeat. Cancellation is honored between batches only and
// turns the accumulated result into a partial one, not an error.
func scanSerial(ctx context.Context, src scan.Scanner, ix *Index, agg *Aggregator, res *Result) error {
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
			return eris.Wrap(err, "query: scan billing extract")
		}
		res.MalformedRows += int64(batch.Malformed)
		agg.AbsorbBatch(ix, ix.FilterBatch(batch.Rows))
	}
	res.RowsScanned = src.Rows()
	return nil
}

// scanParallel fans batches out to workers, each with a private aggregator.
// The scanner itself stays single-reader; the merge after the group joins is
// the only synchronization point.
func scanParallel(ctx context.Context, src scan.Scanner, ix *Index, agg *Aggregator, workers int, res *Result) error {
	var malformed atomic.Int64
	var cancelled atomic.Bool
	parts := make([]*Aggregator, workers)
	batches := make(chan *scan.Batch, workers)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		for {
			if gctx.Err() != nil {
				cancelled.Store(true)
				return nil
			}
			batch, err := src.Next(gctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					cancelled.Store(true)
					return nil
				}
				return eris.Wrap(err, "query: scan billing extract")
			}
			malformed.Add(int64(batch.Malformed))
			select {
			case batches <- batch:
			case <-gctx.Done():
				cancelled.Store(true)
				return nil
			}
		}
	})

	for w := 0; w < workers; w++ {
		part := NewAggregator()
		parts[w] = part
		g.Go(func() error {
			for batch := range batches {
				part.AbsorbBatch(ix, ix.FilterBatch(batch.Rows))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	for _, part := range parts {
		agg.Merge(part)
	}
	res.MalformedRows = malformed.Load()
	res.RowsScanned = src.Rows()
	if cancelled.Load() {
		res.Partial = true
	}
	return nil
}
