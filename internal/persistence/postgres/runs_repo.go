package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// runsRepo implements RunsRepo for the run ledger table
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	table   string
}

// NewRunsRepo creates a new PostgreSQL run ledger repository
func NewRunsRepo(db *sqlx.DB, timeout time.Duration, table string) persistence.RunsRepo {
	return &runsRepo{
		db:      db,
		timeout: timeout,
		table:   quoteTable(table),
	}
}

const runColumns = `run_id, calculation_date, state, started_at, finished_at, universe_size,
	computed, rated, records_written, failed_symbols, failed_batches, error`

// Save upserts a run by ID
func (r *runsRepo) Save(ctx context.Context, run persistence.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	failedSymbols := run.FailedSymbols
	if failedSymbols == nil {
		failedSymbols = []string{}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id) DO UPDATE SET
			state = EXCLUDED.state,
			finished_at = EXCLUDED.finished_at,
			universe_size = EXCLUDED.universe_size,
			computed = EXCLUDED.computed,
			rated = EXCLUDED.rated,
			records_written = EXCLUDED.records_written,
			failed_symbols = EXCLUDED.failed_symbols,
			failed_batches = EXCLUDED.failed_batches,
			error = EXCLUDED.error`, r.table, runColumns)

	_, err := r.db.ExecContext(ctx, query,
		run.ID, dateOnly(run.CalculationDate), run.State, run.StartedAt, run.FinishedAt,
		run.UniverseSize, run.Computed, run.Rated, run.Written,
		pq.Array(failedSymbols), run.FailedBatches, run.Error)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// LatestForDate returns the most recently started run for a date, or nil
func (r *runsRepo) LatestForDate(ctx context.Context, date time.Time) (*persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE calculation_date = $1 ORDER BY started_at DESC LIMIT 1`, runColumns, r.table)
	return r.scanRun(r.db.QueryRowxContext(ctx, query, dateOnly(date)))
}

// Latest returns the most recently started run, or nil
func (r *runsRepo) Latest(ctx context.Context) (*persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC LIMIT 1`, runColumns, r.table)
	return r.scanRun(r.db.QueryRowxContext(ctx, query))
}

func (r *runsRepo) scanRun(row *sqlx.Row) (*persistence.RunRecord, error) {
	var run persistence.RunRecord
	err := row.Scan(
		&run.ID, &run.CalculationDate, &run.State, &run.StartedAt, &run.FinishedAt,
		&run.UniverseSize, &run.Computed, &run.Rated, &run.Written,
		pq.Array(&run.FailedSymbols), &run.FailedBatches, &run.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.CalculationDate = dateOnly(run.CalculationDate)
	return &run, nil
}
