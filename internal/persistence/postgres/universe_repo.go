package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// universeRepo resolves eligible symbols from ticker metadata
type universeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	tickers string
	prices  string
}

// NewUniverseRepo creates a new PostgreSQL universe resolver
func NewUniverseRepo(db *sqlx.DB, timeout time.Duration, tables Tables) persistence.UniverseRepo {
	return &universeRepo{
		db:      db,
		timeout: timeout,
		tickers: quoteTable(tables.Tickers),
		prices:  quoteTable(tables.Prices),
	}
}

// ListSymbols returns the symbols matching the filter, sorted
func (r *universeRepo) ListSymbols(ctx context.Context, filter persistence.UniverseFilter) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var sb strings.Builder
	var args []interface{}
	fmt.Fprintf(&sb, "SELECT DISTINCT t.symbol FROM %s t WHERE 1=1", r.tickers)

	if len(filter.AssetTypes) > 0 {
		args = append(args, pq.Array(filter.AssetTypes))
		fmt.Fprintf(&sb, " AND t.asset_type = ANY($%d)", len(args))
	}

	if filter.Country != "" {
		args = append(args, filter.Country)
		fmt.Fprintf(&sb, " AND t.country = $%d", len(args))
	}

	if filter.RequirePriceOnDate {
		day := dateOnly(filter.AsOf)
		args = append(args, day, day.AddDate(0, 0, 1))
		fmt.Fprintf(&sb, " AND EXISTS (SELECT 1 FROM %s p WHERE p.symbol = t.symbol AND p.timestamp >= $%d AND p.timestamp < $%d AND p.close IS NOT NULL)",
			r.prices, len(args)-1, len(args))
	}

	sb.WriteString(" ORDER BY t.symbol")

	var symbols []string
	if err := r.db.SelectContext(ctx, &symbols, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("failed to list universe symbols: %w", err)
	}
	return symbols, nil
}
