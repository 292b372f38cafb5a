package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// pricesRepo implements PriceReader over the adjusted daily price table
type pricesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	table   string
}

// NewPricesRepo creates a new PostgreSQL price reader
func NewPricesRepo(db *sqlx.DB, timeout time.Duration, table string) persistence.PriceReader {
	return &pricesRepo{
		db:      db,
		timeout: timeout,
		table:   quoteTable(table),
	}
}

// Bars returns the symbol's bars in [from, to], oldest first
func (r *pricesRepo) Bars(ctx context.Context, symbol string, from, to time.Time) ([]persistence.PriceBar, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// open/high/low can be missing on thinly traded days; fall back to the close
	query := fmt.Sprintf(`
		SELECT symbol, timestamp::date AS timestamp,
		       COALESCE(open, close) AS open,
		       COALESCE(high, close) AS high,
		       COALESCE(low, close) AS low,
		       close,
		       COALESCE(volume, 0)::bigint AS volume
		FROM %s
		WHERE symbol = $1 AND timestamp >= $2 AND timestamp < $3 AND close IS NOT NULL
		ORDER BY timestamp ASC`, r.table)

	var bars []persistence.PriceBar
	if err := r.db.SelectContext(ctx, &bars, query, symbol, dateOnly(from), dateOnly(to).AddDate(0, 0, 1)); err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", symbol, err)
	}

	for i := range bars {
		bars[i].Date = dateOnly(bars[i].Date)
	}
	return bars, nil
}

// LatestTradingDate returns the most recent bar date with a close
func (r *pricesRepo) LatestTradingDate(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT MAX(timestamp)::date FROM %s WHERE close IS NOT NULL`, r.table)

	var latest sql.NullTime
	if err := r.db.QueryRowxContext(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest trading date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, persistence.ErrNoData
	}
	return dateOnly(latest.Time), nil
}

// TradingDates returns the distinct bar dates in [from, to]
func (r *pricesRepo) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT DISTINCT timestamp::date AS d
		FROM %s
		WHERE timestamp >= $1 AND timestamp < $2 AND close IS NOT NULL
		ORDER BY d ASC`, r.table)

	var dates []time.Time
	if err := r.db.SelectContext(ctx, &dates, query, dateOnly(from), dateOnly(to).AddDate(0, 0, 1)); err != nil {
		return nil, fmt.Errorf("failed to query trading dates: %w", err)
	}

	for i := range dates {
		dates[i] = dateOnly(dates[i])
	}
	return dates, nil
}
