package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// SchemaStatements returns the DDL for the metrics and run ledger tables
func SchemaStatements(tables Tables) []string {
	var cols strings.Builder
	for _, name := range persistence.AllColumns() {
		fmt.Fprintf(&cols, "\t%s %s,\n", name, columns[name].sqlType)
	}

	metrics := quoteTable(tables.Metrics)
	runs := quoteTable(tables.Runs)

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	symbol TEXT NOT NULL,
	calculation_date DATE NOT NULL,
%s	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (symbol, calculation_date)
)`, metrics, cols.String()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (calculation_date DESC)`,
			indexName(tables.Metrics, "calculation_date"), metrics),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (calculation_date, rs_rating DESC)`,
			indexName(tables.Metrics, "date_rating"), metrics),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id UUID PRIMARY KEY,
	calculation_date DATE NOT NULL,
	state TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	universe_size INTEGER NOT NULL DEFAULT 0,
	computed INTEGER NOT NULL DEFAULT 0,
	rated INTEGER NOT NULL DEFAULT 0,
	records_written INTEGER NOT NULL DEFAULT 0,
	failed_symbols TEXT[] NOT NULL DEFAULT '{}',
	failed_batches JSONB NOT NULL DEFAULT '[]',
	error TEXT
)`, runs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (calculation_date, started_at DESC)`,
			indexName(tables.Runs, "date_started"), runs),
	}
}

// Migrate creates the tables and indexes. With hypertable set and TimescaleDB
// installed, the metrics table is partitioned by calculation_date.
func Migrate(ctx context.Context, db *sqlx.DB, tables Tables, hypertable bool) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range SchemaStatements(tables) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	if hypertable {
		var installed bool
		if err := tx.QueryRowxContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`).Scan(&installed); err != nil {
			return fmt.Errorf("failed to check timescaledb extension: %w", err)
		}
		if installed {
			if _, err := tx.ExecContext(ctx, `SELECT create_hypertable($1, 'calculation_date', if_not_exists => TRUE, migrate_data => TRUE)`, tables.Metrics); err != nil {
				return fmt.Errorf("failed to create hypertable: %w", err)
			}
		} else {
			log.Warn().Str("table", tables.Metrics).Msg("timescaledb not installed, skipping hypertable")
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// CheckLockCapacity reads max_locks_per_transaction and fails with
// persistence.ErrLockCapacity when it is below required
func CheckLockCapacity(ctx context.Context, db *sqlx.DB, required int) (int, error) {
	var raw string
	if err := db.QueryRowxContext(ctx, `SHOW max_locks_per_transaction`).Scan(&raw); err != nil {
		return 0, fmt.Errorf("failed to read max_locks_per_transaction: %w", err)
	}

	got, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("unexpected max_locks_per_transaction value %q: %w", raw, err)
	}

	if got < required {
		return got, fmt.Errorf("%w: max_locks_per_transaction=%d, below the required %d; raise the server setting or lower database.min_locks_per_transaction",
			persistence.ErrLockCapacity, got, required)
	}
	return got, nil
}
