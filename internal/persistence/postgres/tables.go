package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// Tables names the relations read and written by the repositories
type Tables struct {
	Prices  string `yaml:"prices"`
	Tickers string `yaml:"tickers"`
	Metrics string `yaml:"metrics"`
	Runs    string `yaml:"runs"`
}

// DefaultTables returns the production table names
func DefaultTables() Tables {
	return Tables{
		Prices:  "yahoo_adjusted_stock_prices",
		Tickers: "tickers",
		Metrics: "stock_indicators",
		Runs:    "metrics_runs",
	}
}

// Validate requires every table name to be set
func (t Tables) Validate() error {
	for name, v := range map[string]string{"prices": t.Prices, "tickers": t.Tickers, "metrics": t.Metrics, "runs": t.Runs} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("table name %q is empty", name)
		}
	}
	return nil
}

// quoteTable quotes a possibly schema-qualified table name
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// indexName derives an unquoted identifier prefix from a table name
func indexName(table, suffix string) string {
	return "idx_" + strings.ReplaceAll(table, ".", "_") + "_" + suffix
}

// dateOnly truncates t to midnight UTC of its calendar date
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SQLSTATE codes reported when the lock table or shared memory runs out
var resourceExhaustedCodes = map[pq.ErrorCode]bool{
	"53200": true, // out_of_memory, raised as "out of shared memory" when locks run out
	"53400": true, // configuration_limit_exceeded
	"55P03": true, // lock_not_available
}

// classify tags store resource exhaustion with persistence.ErrResourceExhausted
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && resourceExhaustedCodes[pqErr.Code] {
		return fmt.Errorf("%s: %w: %w", msg, persistence.ErrResourceExhausted, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
