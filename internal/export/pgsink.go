package export

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hospitalstats/internal/query"
)

const resultsTableDDL = `
CREATE TABLE IF NOT EXISTS hospital_results (
    facility_id                  TEXT NOT NULL,
    hospital_name                TEXT NOT NULL,
    hospital_city                TEXT,
    hospital_state               TEXT,
    total_procedures             BIGINT NOT NULL,
    total_payments               NUMERIC NOT NULL,
    num_physicians               INTEGER NOT NULL,
    avg_procedures_per_physician DOUBLE PRECISION NOT NULL,
    code_breakdown               TEXT,
    loaded_at                    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

var resultsColumns = []string{
	"facility_id", "hospital_name", "hospital_city", "hospital_state",
	"total_procedures", "total_payments", "num_physicians",
	"avg_procedures_per_physician", "code_breakdown",
}

// PGSink writes a ranked result set into PostgreSQL with batched COPY.
type PGSink struct {
	pool  *pgxpool.Pool
	batch int
}

// NewPGSink connects to PostgreSQL and verifies the connection. batchSize
// bounds how many rows each COPY carries; DefaultBatchRows if <= 0.
func NewPGSink(ctx context.Context, connStr string, batchSize int) (*PGSink, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, eris.Wrap(err, "export: parse connection string")
	}
	poolConfig.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, eris.Wrap(err, "export: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "export: ping")
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchRows
	}
	return &PGSink{pool: pool, batch: batchSize}, nil
}

// Close releases the connection pool.
func (s *PGSink) Close() {
	s.pool.Close()
}

// EnsureSchema creates the results table if it does not exist.
func (s *PGSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, resultsTableDDL); err != nil {
		return eris.Wrap(err, "export: create results table")
	}
	return nil
}

// LoadResults copies the full result set into the results table, one COPY per
// batch, all inside a single transaction. Returns the number of rows written.
func (s *PGSink) LoadResults(ctx context.Context, rows []query.ResultRow) (int64, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "export"))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "export: begin tx")
	}
	defer tx.Rollback(ctx)

	var written int64
	for lo := 0; lo < len(rows); lo += s.batch {
		hi := lo + s.batch
		if hi > len(rows) {
			hi = len(rows)
		}
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"hospital_results"},
			resultsColumns,
			pgx.CopyFromSlice(hi-lo, func(i int) ([]any, error) {
				r := &rows[lo+i]
				return []any{
					r.FacilityID,
					r.Name,
					textOrNull(r.City),
					textOrNull(r.State),
					r.TotalProcedures,
					decimalToNumeric(r.TotalPayments),
					int32(r.NumPhysicians),
					r.AvgProceduresPerPhysician,
					textOrNull(r.BreakdownSummary()),
				}, nil
			}))
		if err != nil {
			return written, eris.Wrap(err, "export: copy results")
		}
		written += n
	}

	if err := tx.Commit(ctx); err != nil {
		return written, eris.Wrap(err, "export: commit")
	}

	log.Info("loaded results into postgres",
		zap.Int64("rows", written),
		zap.Duration("elapsed", time.Since(start)))
	return written, nil
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var num pgtype.Numeric
	if err := num.Scan(d.String()); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return num
}

func textOrNull(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: strings.ToValidUTF8(s, " "), Valid: true}
}
