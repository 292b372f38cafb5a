package engine

import (
	"time"

	"github.com/guregu/null/v6"

	"github.com/sawpanic/stockmetrics/internal/domain/metrics"
	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// ToRecord maps a ranked snapshot onto its storage row
func ToRecord(s metrics.Snapshot, date time.Time, rating null.Int) persistence.MetricsRecord {
	return persistence.MetricsRecord{
		Symbol:            s.Symbol,
		CalculationDate:   date,
		RSRating:          rating,
		WeightedChange:    s.WeightedChange,
		PctChange1D:       s.Returns.D1,
		PctChange5D:       s.Returns.D5,
		PctChange1Mo:      s.Returns.M1,
		PctChange3Mo:      s.Returns.M3,
		PctChange6Mo:      s.Returns.M6,
		PctChange9Mo:      s.Returns.M9,
		PctChange12Mo:     s.Returns.M12,
		PctChange1Y:       s.Returns.Y1,
		ClosePrice:        s.Close,
		CurrentPriceDate:  s.PriceDate,
		High52w:           s.High52w,
		Low52w:            s.Low52w,
		PctFrom52wHigh:    s.PctFrom52wHigh,
		PctFrom52wLow:     s.PctFrom52wLow,
		CurrentVolume:     s.CurrentVolume,
		AvgVolume20d:      s.AvgVolume,
		VolumeRatio:       s.VolumeRatio,
		SMA20:             s.SMA20,
		SMA50:             s.SMA50,
		SMA200:            s.SMA200,
		PriceVsSMA20Pct:   s.PriceVsSMA20,
		PriceVsSMA50Pct:   s.PriceVsSMA50,
		PriceVsSMA200Pct:  s.PriceVsSMA200,
		DailyPercentRange: s.DailyPercentRange,
		ADR20:             s.ADR20,
	}
}
