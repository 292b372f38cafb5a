package engine

import (
	"fmt"
	"time"

	"github.com/sawpanic/stockmetrics/internal/domain/metrics"
	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// UniverseOptions selects the symbols eligible for a run
type UniverseOptions struct {
	AssetTypes         []string `yaml:"asset_types"`
	Country            string   `yaml:"country"`
	RequirePriceOnDate bool     `yaml:"require_price_on_date"`
}

// Options controls the compute side of a run
type Options struct {
	BatchSize       int             `yaml:"batch_size"`
	Concurrency     int             `yaml:"concurrency"`
	MaxFailureRatio float64         `yaml:"max_failure_ratio"`
	PruneStale      bool            `yaml:"prune_stale"`
	LockTTL         time.Duration   `yaml:"lock_ttl"`
	Universe        UniverseOptions `yaml:"universe"`
	Metrics         metrics.Config  `yaml:"metrics"`
}

// DefaultOptions returns batches of 500 symbols over 8 workers
func DefaultOptions() Options {
	return Options{
		BatchSize:       500,
		Concurrency:     8,
		MaxFailureRatio: 0.5,
		PruneStale:      true,
		LockTTL:         2 * time.Hour,
		Universe:        UniverseOptions{RequirePriceOnDate: true},
		Metrics:         metrics.DefaultConfig(),
	}
}

// Validate checks option ranges
func (o Options) Validate() error {
	if o.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if o.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if o.MaxFailureRatio < 0 || o.MaxFailureRatio > 1 {
		return fmt.Errorf("max_failure_ratio must be within [0, 1]")
	}
	if o.LockTTL < 0 {
		return fmt.Errorf("lock_ttl cannot be negative")
	}
	return o.Metrics.Validate()
}

// WriterOptions controls how ranked records reach the store
type WriterOptions struct {
	Columns      string        `yaml:"columns"` // full, relative_strength or screening
	BatchSize    int           `yaml:"batch_size"`
	MinBatchSize int           `yaml:"min_batch_size"`
	Concurrency  int           `yaml:"concurrency"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultWriterOptions returns 500-row upserts, two in flight
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		Columns:      persistence.ProfileFull,
		BatchSize:    500,
		MinBatchSize: 50,
		Concurrency:  2,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// Validate checks writer limits against the store's statement cap
func (o WriterOptions) Validate() error {
	if _, err := persistence.ColumnProfile(o.Columns); err != nil {
		return err
	}
	if o.BatchSize <= 0 || o.BatchSize > persistence.MaxBatchRows {
		return fmt.Errorf("writer batch_size must be within [1, %d]", persistence.MaxBatchRows)
	}
	if o.MinBatchSize <= 0 || o.MinBatchSize > o.BatchSize {
		return fmt.Errorf("writer min_batch_size must be within [1, batch_size]")
	}
	if o.Concurrency <= 0 {
		return fmt.Errorf("writer concurrency must be positive")
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("writer max_retries cannot be negative")
	}
	return nil
}
