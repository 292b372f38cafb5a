package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// MaxUpsertRows caps a single upsert statement
const MaxUpsertRows = persistence.MaxBatchRows

const defaultScreenLimit = 100

// metricsRepo implements MetricsRepo for PostgreSQL
type metricsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	table   string
}

// NewMetricsRepo creates a new PostgreSQL metrics repository
func NewMetricsRepo(db *sqlx.DB, timeout time.Duration, table string) persistence.MetricsRepo {
	return &metricsRepo{
		db:      db,
		timeout: timeout,
		table:   quoteTable(table),
	}
}

func selectColumns() string {
	return "symbol, calculation_date, " + strings.Join(persistence.AllColumns(), ", ") + ", updated_at"
}

// UpsertBatch writes the records with one multi-row INSERT ... ON CONFLICT in
// a transaction. Only the owned columns are set on conflict.
func (r *metricsRepo) UpsertBatch(ctx context.Context, records []persistence.MetricsRecord, owned persistence.ColumnSet) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) > MaxUpsertRows {
		return fmt.Errorf("upsert batch of %d rows exceeds limit of %d", len(records), MaxUpsertRows)
	}
	if err := owned.Validate(); err != nil {
		return fmt.Errorf("invalid column set: %w", err)
	}

	query, args, err := buildUpsert(r.table, records, owned)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(records)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return classify(err, "failed to upsert metrics batch")
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "failed to commit metrics batch")
	}
	return nil
}

func buildUpsert(table string, records []persistence.MetricsRecord, owned persistence.ColumnSet) (string, []interface{}, error) {
	seen := make(map[string]bool, len(records))

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (symbol, calculation_date, %s, updated_at) VALUES ", table, strings.Join(owned, ", "))

	args := make([]interface{}, 0, len(records)*(len(owned)+2))
	for i := range records {
		rec := &records[i]
		if rec.Symbol == "" || rec.CalculationDate.IsZero() {
			return "", nil, fmt.Errorf("record %d is missing symbol or calculation date", i)
		}
		key := rec.Symbol + "|" + dateOnly(rec.CalculationDate).Format("2006-01-02")
		if seen[key] {
			return "", nil, fmt.Errorf("duplicate record for %s in batch", key)
		}
		seen[key] = true

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		args = append(args, rec.Symbol, dateOnly(rec.CalculationDate))
		fmt.Fprintf(&sb, "$%d, $%d", len(args)-1, len(args))
		for _, col := range owned {
			args = append(args, columns[col].value(rec))
			fmt.Fprintf(&sb, ", $%d", len(args))
		}
		sb.WriteString(", NOW())")
	}

	sb.WriteString(" ON CONFLICT (symbol, calculation_date) DO UPDATE SET ")
	for _, col := range owned {
		fmt.Fprintf(&sb, "%s = EXCLUDED.%s, ", col, col)
	}
	sb.WriteString("updated_at = EXCLUDED.updated_at")

	return sb.String(), args, nil
}

// ClearStale nulls the owned columns of rows on date whose symbol is not in keep
func (r *metricsRepo) ClearStale(ctx context.Context, date time.Time, keep []string, owned persistence.ColumnSet) (int64, error) {
	if err := owned.Validate(); err != nil {
		return 0, fmt.Errorf("invalid column set: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sets := make([]string, 0, len(owned)+1)
	for _, col := range owned {
		sets = append(sets, col+" = NULL")
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE calculation_date = $1 AND NOT (symbol = ANY($2))`,
		r.table, strings.Join(sets, ", "))

	res, err := r.db.ExecContext(ctx, query, dateOnly(date), pq.Array(keep))
	if err != nil {
		return 0, classify(err, "failed to clear stale metrics")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// GetBySymbolDate returns one record, or nil if it does not exist
func (r *metricsRepo) GetBySymbolDate(ctx context.Context, symbol string, date time.Time) (*persistence.MetricsRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = $1 AND calculation_date = $2`, selectColumns(), r.table)

	var rec persistence.MetricsRecord
	if err := r.db.GetContext(ctx, &rec, query, symbol, dateOnly(date)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get metrics for %s: %w", symbol, err)
	}
	return &rec, nil
}

// LatestDate returns the most recent calculation date
func (r *metricsRepo) LatestDate(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var latest sql.NullTime
	query := fmt.Sprintf(`SELECT MAX(calculation_date) FROM %s`, r.table)
	if err := r.db.QueryRowxContext(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest calculation date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, persistence.ErrNoData
	}
	return dateOnly(latest.Time), nil
}

// ListLatest returns records for the latest calculation date matching the filter,
// strongest rating first
func (r *metricsRepo) ListLatest(ctx context.Context, filter persistence.ScreenFilter) ([]persistence.MetricsRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var sb strings.Builder
	var args []interface{}
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE calculation_date = (SELECT MAX(calculation_date) FROM %s)",
		selectColumns(), r.table, r.table)

	if filter.MinRSRating > 0 {
		args = append(args, filter.MinRSRating)
		fmt.Fprintf(&sb, " AND rs_rating >= $%d", len(args))
	}
	if filter.MinVolumeRatio > 0 {
		args = append(args, filter.MinVolumeRatio)
		fmt.Fprintf(&sb, " AND volume_ratio >= $%d", len(args))
	}
	if filter.AboveSMA200 {
		sb.WriteString(" AND close_price > sma_200")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultScreenLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY rs_rating DESC NULLS LAST, symbol ASC LIMIT $%d", len(args))

	var records []persistence.MetricsRecord
	if err := r.db.SelectContext(ctx, &records, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("failed to list latest metrics: %w", err)
	}
	return records, nil
}

// ExistingDates returns the calculation dates in [from, to] that have rows
func (r *metricsRepo) ExistingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT DISTINCT calculation_date
		FROM %s
		WHERE calculation_date >= $1 AND calculation_date <= $2
		ORDER BY calculation_date ASC`, r.table)

	var dates []time.Time
	if err := r.db.SelectContext(ctx, &dates, query, dateOnly(from), dateOnly(to)); err != nil {
		return nil, fmt.Errorf("failed to query existing calculation dates: %w", err)
	}
	for i := range dates {
		dates[i] = dateOnly(dates[i])
	}
	return dates, nil
}
