package persistence

import (
	"fmt"
)

// ColumnSet lists the metric columns a writer owns. Upserts and stale clears
// only ever touch these, so writers with disjoint sets can share a row.
type ColumnSet []string

// MaxBatchRows caps the records accepted by one UpsertBatch call
const MaxBatchRows = 1000

// Column profiles selectable from configuration
const (
	ProfileFull             = "full"
	ProfileRelativeStrength = "relative_strength"
	ProfileScreening        = "screening"
)

var metricColumns = []string{
	"rs_rating",
	"weighted_change",
	"pct_change_1d",
	"pct_change_5d",
	"pct_change_1mo",
	"pct_change_3mo",
	"pct_change_6mo",
	"pct_change_9mo",
	"pct_change_12mo",
	"pct_change_1y",
	"close_price",
	"current_price_date",
	"high_52w",
	"low_52w",
	"pct_from_52w_high",
	"pct_from_52w_low",
	"current_volume",
	"avg_volume_20d",
	"volume_ratio",
	"sma_20",
	"sma_50",
	"sma_200",
	"price_vs_sma20_pct",
	"price_vs_sma50_pct",
	"price_vs_sma200_pct",
	"daily_percent_range",
	"adr20",
}

var relativeStrengthColumns = map[string]bool{
	"rs_rating":       true,
	"weighted_change": true,
	"pct_change_3mo":  true,
	"pct_change_6mo":  true,
	"pct_change_9mo":  true,
	"pct_change_12mo": true,
}

// AllColumns returns every metric column in table order
func AllColumns() ColumnSet {
	out := make(ColumnSet, len(metricColumns))
	copy(out, metricColumns)
	return out
}

// RelativeStrengthColumns returns the rating and the quarterly returns feeding it
func RelativeStrengthColumns() ColumnSet {
	var out ColumnSet
	for _, c := range metricColumns {
		if relativeStrengthColumns[c] {
			out = append(out, c)
		}
	}
	return out
}

// ScreeningColumns returns everything not owned by the relative strength writer
func ScreeningColumns() ColumnSet {
	var out ColumnSet
	for _, c := range metricColumns {
		if !relativeStrengthColumns[c] {
			out = append(out, c)
		}
	}
	return out
}

// ColumnProfile resolves a named profile
func ColumnProfile(name string) (ColumnSet, error) {
	switch name {
	case "", ProfileFull:
		return AllColumns(), nil
	case ProfileRelativeStrength:
		return RelativeStrengthColumns(), nil
	case ProfileScreening:
		return ScreeningColumns(), nil
	default:
		return nil, fmt.Errorf("unknown column profile %q", name)
	}
}

// Contains reports whether col is owned by the set
func (c ColumnSet) Contains(col string) bool {
	for _, owned := range c {
		if owned == col {
			return true
		}
	}
	return false
}

// Validate rejects empty sets, unknown columns and duplicates
func (c ColumnSet) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("column set is empty")
	}

	known := make(map[string]bool, len(metricColumns))
	for _, col := range metricColumns {
		known[col] = true
	}

	seen := make(map[string]bool, len(c))
	for _, col := range c {
		if !known[col] {
			return fmt.Errorf("unknown metric column %q", col)
		}
		if seen[col] {
			return fmt.Errorf("duplicate metric column %q", col)
		}
		seen[col] = true
	}
	return nil
}
