package persistence

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
)

var (
	// ErrNoData is returned when a lookup has nothing to report (empty price store, no runs)
	ErrNoData = errors.New("no data")

	// ErrLockCapacity is returned when the store's lock table is smaller than the writer needs
	ErrLockCapacity = errors.New("insufficient lock capacity")

	// ErrResourceExhausted marks write failures caused by lock or memory exhaustion in the store
	ErrResourceExhausted = errors.New("store resource exhausted")
)

// TimeRange represents an inclusive date window for queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// PriceBar is one adjusted daily OHLCV row for a symbol
type PriceBar struct {
	Symbol string    `json:"symbol" db:"symbol"`
	Date   time.Time `json:"date" db:"timestamp"`
	Open   float64   `json:"open" db:"open"`
	High   float64   `json:"high" db:"high"`
	Low    float64   `json:"low" db:"low"`
	Close  float64   `json:"close" db:"close"`
	Volume int64     `json:"volume" db:"volume"`
}

// UniverseFilter narrows the ticker metadata to the symbols eligible for a run
type UniverseFilter struct {
	AssetTypes         []string  `json:"asset_types,omitempty"`
	Country            string    `json:"country,omitempty"`
	AsOf               time.Time `json:"as_of"`
	RequirePriceOnDate bool      `json:"require_price_on_date"`
}

// MetricsRecord is one row of derived metrics keyed by (symbol, calculation_date)
type MetricsRecord struct {
	Symbol            string     `json:"symbol" db:"symbol"`
	CalculationDate   time.Time  `json:"calculation_date" db:"calculation_date"`
	RSRating          null.Int   `json:"rs_rating" db:"rs_rating"`
	WeightedChange    null.Float `json:"weighted_change" db:"weighted_change"`
	PctChange1D       null.Float `json:"pct_change_1d" db:"pct_change_1d"`
	PctChange5D       null.Float `json:"pct_change_5d" db:"pct_change_5d"`
	PctChange1Mo      null.Float `json:"pct_change_1mo" db:"pct_change_1mo"`
	PctChange3Mo      null.Float `json:"pct_change_3mo" db:"pct_change_3mo"`
	PctChange6Mo      null.Float `json:"pct_change_6mo" db:"pct_change_6mo"`
	PctChange9Mo      null.Float `json:"pct_change_9mo" db:"pct_change_9mo"`
	PctChange12Mo     null.Float `json:"pct_change_12mo" db:"pct_change_12mo"`
	PctChange1Y       null.Float `json:"pct_change_1y" db:"pct_change_1y"`
	ClosePrice        null.Float `json:"close_price" db:"close_price"`
	CurrentPriceDate  null.Time  `json:"current_price_date" db:"current_price_date"`
	High52w           null.Float `json:"high_52w" db:"high_52w"`
	Low52w            null.Float `json:"low_52w" db:"low_52w"`
	PctFrom52wHigh    null.Float `json:"pct_from_52w_high" db:"pct_from_52w_high"`
	PctFrom52wLow     null.Float `json:"pct_from_52w_low" db:"pct_from_52w_low"`
	CurrentVolume     null.Int   `json:"current_volume" db:"current_volume"`
	AvgVolume20d      null.Float `json:"avg_volume_20d" db:"avg_volume_20d"`
	VolumeRatio       null.Float `json:"volume_ratio" db:"volume_ratio"`
	SMA20             null.Float `json:"sma_20" db:"sma_20"`
	SMA50             null.Float `json:"sma_50" db:"sma_50"`
	SMA200            null.Float `json:"sma_200" db:"sma_200"`
	PriceVsSMA20Pct   null.Float `json:"price_vs_sma20_pct" db:"price_vs_sma20_pct"`
	PriceVsSMA50Pct   null.Float `json:"price_vs_sma50_pct" db:"price_vs_sma50_pct"`
	PriceVsSMA200Pct  null.Float `json:"price_vs_sma200_pct" db:"price_vs_sma200_pct"`
	DailyPercentRange null.Float `json:"daily_percent_range" db:"daily_percent_range"`
	ADR20             null.Float `json:"adr20" db:"adr20"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// ScreenFilter is the predicate used by the "latest date" screening query
type ScreenFilter struct {
	MinRSRating    int     `json:"min_rs_rating,omitempty"`
	MinVolumeRatio float64 `json:"min_volume_ratio,omitempty"`
	AboveSMA200    bool    `json:"above_sma200,omitempty"`
	Limit          int     `json:"limit,omitempty"`
}

// FailedBatch identifies a write batch whose retries were exhausted
type FailedBatch struct {
	Index   int      `json:"index"`
	Symbols []string `json:"symbols"`
	Error   string   `json:"error"`
}

// FailedBatches is stored as JSONB on the run ledger
type FailedBatches []FailedBatch

// Value implements driver.Valuer
func (f FailedBatches) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner
func (f *FailedBatches) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported failed_batches type %T", src)
	}
	return json.Unmarshal(data, f)
}

// RunRecord is the ledger entry for one engine run
type RunRecord struct {
	ID              string        `json:"run_id" db:"run_id"`
	CalculationDate time.Time     `json:"calculation_date" db:"calculation_date"`
	State           string        `json:"state" db:"state"`
	StartedAt       time.Time     `json:"started_at" db:"started_at"`
	FinishedAt      null.Time     `json:"finished_at" db:"finished_at"`
	UniverseSize    int           `json:"universe_size" db:"universe_size"`
	Computed        int           `json:"computed" db:"computed"`
	Rated           int           `json:"rated" db:"rated"`
	Written         int           `json:"records_written" db:"records_written"`
	FailedSymbols   []string      `json:"failed_symbols" db:"-"`
	FailedBatches   FailedBatches `json:"failed_batches" db:"failed_batches"`
	Error           null.String   `json:"error" db:"error"`
}

// PriceReader provides read-only access to the adjusted price store
type PriceReader interface {
	// Bars returns ascending bars for symbol with from <= date <= to
	Bars(ctx context.Context, symbol string, from, to time.Time) ([]PriceBar, error)

	// LatestTradingDate returns the most recent date with a close, or ErrNoData
	LatestTradingDate(ctx context.Context) (time.Time, error)

	// TradingDates returns the distinct bar dates in the window, ascending
	TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

// UniverseRepo resolves the set of symbols eligible for a run
type UniverseRepo interface {
	// ListSymbols returns sorted, unique symbols matching the filter
	ListSymbols(ctx context.Context, filter UniverseFilter) ([]string, error)
}

// MetricsRepo persists and serves derived metrics
type MetricsRepo interface {
	// UpsertBatch writes records in one transaction, touching only the given columns on conflict
	UpsertBatch(ctx context.Context, records []MetricsRecord, columns ColumnSet) error

	// ClearStale nulls the given columns for rows on date whose symbol is not in keep
	ClearStale(ctx context.Context, date time.Time, keep []string, columns ColumnSet) (int64, error)

	// GetBySymbolDate returns one record, or nil if absent
	GetBySymbolDate(ctx context.Context, symbol string, date time.Time) (*MetricsRecord, error)

	// LatestDate returns the most recent calculation date, or ErrNoData
	LatestDate(ctx context.Context) (time.Time, error)

	// ListLatest runs the screening query against the latest calculation date
	ListLatest(ctx context.Context, filter ScreenFilter) ([]MetricsRecord, error)

	// ExistingDates returns calculation dates that already have rows in the window
	ExistingDates(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

// RunsRepo stores the run ledger so incomplete dates can be detected and re-run
type RunsRepo interface {
	// Save inserts or updates a run by ID
	Save(ctx context.Context, run RunRecord) error

	// LatestForDate returns the most recent run for a calculation date, or nil
	LatestForDate(ctx context.Context, date time.Time) (*RunRecord, error)

	// Latest returns the most recently started run, or nil
	Latest(ctx context.Context) (*RunRecord, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Prices   PriceReader
	Universe UniverseRepo
	Metrics  MetricsRepo
	Runs     RunsRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity
	Ping(ctx context.Context) error

	// Stats returns connection pool statistics
	Stats(ctx context.Context) map[string]interface{}
}
