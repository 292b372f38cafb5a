package metrics

import (
	"fmt"
	"time"

	"github.com/guregu/null/v6"
)

// Decimal places for stored values
const (
	PercentPlaces = 2
	PricePlaces   = 4
)

// Config parameterizes the per-symbol calculators
type Config struct {
	Horizons     HorizonSet `yaml:"horizons"`
	Weights      Weights    `yaml:"weights"`
	MaxStaleDays int        `yaml:"max_stale_days"`
}

// DefaultConfig returns the standard horizons and weights. Staleness is off:
// any bar at or before the lookback target is a valid reference.
func DefaultConfig() Config {
	return Config{
		Horizons: DefaultHorizons(),
		Weights:  DefaultWeights(),
	}
}

// Validate checks weights and horizon lengths
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	for _, h := range c.Horizons.All() {
		if h.Days <= 0 && h.Bars <= 0 {
			return fmt.Errorf("horizon %q needs days or bars", h.Name)
		}
	}
	if c.MaxStaleDays < 0 {
		return fmt.Errorf("max_stale_days cannot be negative")
	}
	return nil
}

// HistoryDays is the calendar window of bars needed to evaluate every metric
func (c Config) HistoryDays() int {
	days := c.Horizons.MaxDays() + c.MaxStaleDays
	// 252 trading bars span roughly 366 calendar days
	if days < 380 {
		days = 380
	}
	return days + 14
}

// Snapshot holds every per-symbol metric for one date, rounded for storage.
// The rating is assigned later by Rank over the whole universe.
type Snapshot struct {
	Symbol            string
	AsOf              time.Time
	PriceDate         null.Time
	Close             null.Float
	Returns           Returns
	WeightedChange    null.Float
	SMA20             null.Float
	SMA50             null.Float
	SMA200            null.Float
	PriceVsSMA20      null.Float
	PriceVsSMA50      null.Float
	PriceVsSMA200     null.Float
	High52w           null.Float
	Low52w            null.Float
	PctFrom52wHigh    null.Float
	PctFrom52wLow     null.Float
	CurrentVolume     null.Int
	AvgVolume         null.Float
	VolumeRatio       null.Float
	DailyPercentRange null.Float
	ADR20             null.Float
}

// Calculator computes snapshots for single symbols
type Calculator struct {
	config Config
}

// NewCalculator creates a calculator with the given configuration
func NewCalculator(config Config) *Calculator {
	return &Calculator{config: config}
}

// Config returns the calculator configuration
func (c *Calculator) Config() Config {
	return c.config
}

// Compute derives every metric for symbol as of asOf. A malformed series
// yields an all-null snapshot and an error wrapping ErrMalformedBars; a
// series without bars on or before asOf yields an all-null snapshot and no error.
func (c *Calculator) Compute(symbol string, bars []Bar, asOf time.Time) (Snapshot, error) {
	snap := Snapshot{Symbol: symbol, AsOf: Day(asOf)}

	if err := Validate(bars); err != nil {
		return snap, fmt.Errorf("%s: %w", symbol, err)
	}

	window := UpTo(bars, asOf)
	if len(window) == 0 {
		return snap, nil
	}
	cur := window[len(window)-1]

	returns := c.config.Horizons.Compute(window, asOf, c.config.MaxStaleDays)
	weighted := c.config.Weights.Score(returns)

	sma20 := SMA(window, 20)
	sma50 := SMA(window, 50)
	sma200 := SMA(window, 200)
	high, low := Extremes(window, ExtremesWindow)
	avgVol := AverageVolume(window, VolumeWindow)

	snap.PriceDate = null.TimeFrom(Day(cur.Date))
	snap.Close = Round(null.FloatFrom(cur.Close), PricePlaces)
	snap.Returns = Returns{
		D1:  Round(returns.D1, PercentPlaces),
		D5:  Round(returns.D5, PercentPlaces),
		M1:  Round(returns.M1, PercentPlaces),
		M3:  Round(returns.M3, PercentPlaces),
		M6:  Round(returns.M6, PercentPlaces),
		M9:  Round(returns.M9, PercentPlaces),
		M12: Round(returns.M12, PercentPlaces),
		Y1:  Round(returns.Y1, PercentPlaces),
	}
	snap.WeightedChange = Round(weighted, PercentPlaces)
	snap.SMA20 = Round(sma20, PricePlaces)
	snap.SMA50 = Round(sma50, PricePlaces)
	snap.SMA200 = Round(sma200, PricePlaces)
	snap.PriceVsSMA20 = Round(PercentFrom(cur.Close, sma20), PercentPlaces)
	snap.PriceVsSMA50 = Round(PercentFrom(cur.Close, sma50), PercentPlaces)
	snap.PriceVsSMA200 = Round(PercentFrom(cur.Close, sma200), PercentPlaces)
	snap.High52w = Round(high, PricePlaces)
	snap.Low52w = Round(low, PricePlaces)
	snap.PctFrom52wHigh = Round(PercentFrom(cur.Close, high), PercentPlaces)
	snap.PctFrom52wLow = Round(PercentFrom(cur.Close, low), PercentPlaces)
	snap.CurrentVolume = null.IntFrom(cur.Volume)
	snap.AvgVolume = Round(avgVol, PercentPlaces)
	snap.VolumeRatio = Round(VolumeRatio(cur.Volume, avgVol), PercentPlaces)
	snap.DailyPercentRange = Round(DailyPercentRange(cur), PercentPlaces)
	snap.ADR20 = Round(ADR(window, ADRWindow), PercentPlaces)

	return snap, nil
}
