package postgres

import (
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// column describes one metric column: its DDL type and how a record supplies it
type column struct {
	sqlType string
	value   func(r *persistence.MetricsRecord) interface{}
}

func pct(f func(r *persistence.MetricsRecord) null.Float) func(r *persistence.MetricsRecord) interface{} {
	return func(r *persistence.MetricsRecord) interface{} { return toDecimal(f(r), 2) }
}

func price(f func(r *persistence.MetricsRecord) null.Float) func(r *persistence.MetricsRecord) interface{} {
	return func(r *persistence.MetricsRecord) interface{} { return toDecimal(f(r), 4) }
}

// toDecimal converts an optional float into a NUMERIC parameter at the given scale
func toDecimal(v null.Float, places int32) decimal.NullDecimal {
	if !v.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(v.Float64).Round(places), Valid: true}
}

const (
	percentType = "NUMERIC(14,2)"
	priceType   = "NUMERIC(18,4)"
)

var columns = map[string]column{
	"rs_rating":           {"SMALLINT", func(r *persistence.MetricsRecord) interface{} { return r.RSRating }},
	"weighted_change":     {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.WeightedChange })},
	"pct_change_1d":       {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PctChange1D })},
	"pct_change_5d":       {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PctChange5D })},
	"pct_change_1mo":      {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PctChange1Mo })},
	"pct_change_3mo":      {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PctChange3Mo })},
	"pct_change_6mo":      {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PctChange6Mo })},
	"pct_change_9mo":      {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PctChange9Mo })},
	"pct_change_12mo":     {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PctChange12Mo })},
	"pct_change_1y":       {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PctChange1Y })},
	"close_price":         {priceType, price(func(r *persistence.MetricsRecord) null.Float { return r.ClosePrice })},
	"current_price_date":  {"DATE", func(r *persistence.MetricsRecord) interface{} { return r.CurrentPriceDate }},
	"high_52w":            {priceType, price(func(r *persistence.MetricsRecord) null.Float { return r.High52w })},
	"low_52w":             {priceType, price(func(r *persistence.MetricsRecord) null.Float { return r.Low52w })},
	"pct_from_52w_high":   {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PctFrom52wHigh })},
	"pct_from_52w_low":    {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PctFrom52wLow })},
	"current_volume":      {"BIGINT", func(r *persistence.MetricsRecord) interface{} { return r.CurrentVolume }},
	"avg_volume_20d":      {"NUMERIC(20,2)", pct(func(r *persistence.MetricsRecord) null.Float { return r.AvgVolume20d })},
	"volume_ratio":        {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.VolumeRatio })},
	"sma_20":              {priceType, price(func(r *persistence.MetricsRecord) null.Float { return r.SMA20 })},
	"sma_50":              {priceType, price(func(r *persistence.MetricsRecord) null.Float { return r.SMA50 })},
	"sma_200":             {priceType, price(func(r *persistence.MetricsRecord) null.Float { return r.SMA200 })},
	"price_vs_sma20_pct":  {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PriceVsSMA20Pct })},
	"price_vs_sma50_pct":  {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PriceVsSMA50Pct })},
	"price_vs_sma200_pct": {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.PriceVsSMA200Pct })},
	"daily_percent_range": {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.DailyPercentRange })},
	"adr20":               {percentType, pct(func(r *persistence.MetricsRecord) null.Float { return r.ADR20 })},
}
