package metrics

import (
	"sort"
	"time"

	"github.com/guregu/null/v6"
)

// Bar is one daily OHLCV observation
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Horizon is a trailing lookback window. Days counts calendar days back from
// the as-of date; Bars counts trading bars back from the current bar.
type Horizon struct {
	Name string `yaml:"name"`
	Days int    `yaml:"days"`
	Bars int    `yaml:"bars"`
}

// HorizonSet holds the lookbacks for every stored percentage change
type HorizonSet struct {
	D1  Horizon `yaml:"1d"`
	D5  Horizon `yaml:"5d"`
	M1  Horizon `yaml:"1mo"`
	M3  Horizon `yaml:"3mo"`
	M6  Horizon `yaml:"6mo"`
	M9  Horizon `yaml:"9mo"`
	M12 Horizon `yaml:"12mo"`
	Y1  Horizon `yaml:"1y"`
}

// DefaultHorizons returns the standard lookbacks. The quarterly horizons are
// multiples of 90 days so the weighted score sees equal-length quarters.
func DefaultHorizons() HorizonSet {
	return HorizonSet{
		D1:  Horizon{Name: "1d", Bars: 1},
		D5:  Horizon{Name: "5d", Days: 7},
		M1:  Horizon{Name: "1mo", Days: 30},
		M3:  Horizon{Name: "3mo", Days: 90},
		M6:  Horizon{Name: "6mo", Days: 180},
		M9:  Horizon{Name: "9mo", Days: 270},
		M12: Horizon{Name: "12mo", Days: 360},
		Y1:  Horizon{Name: "1y", Days: 365},
	}
}

// All returns the horizons in ascending length
func (s HorizonSet) All() []Horizon {
	return []Horizon{s.D1, s.D5, s.M1, s.M3, s.M6, s.M9, s.M12, s.Y1}
}

// MaxDays returns the longest calendar lookback in the set
func (s HorizonSet) MaxDays() int {
	max := 0
	for _, h := range s.All() {
		if h.Days > max {
			max = h.Days
		}
	}
	return max
}

// Returns holds the trailing percentage changes for one symbol and date
type Returns struct {
	D1  null.Float
	D5  null.Float
	M1  null.Float
	M3  null.Float
	M6  null.Float
	M9  null.Float
	M12 null.Float
	Y1  null.Float
}

// Compute evaluates every horizon in the set
func (s HorizonSet) Compute(bars []Bar, asOf time.Time, maxStaleDays int) Returns {
	return Returns{
		D1:  PercentChange(bars, asOf, s.D1, maxStaleDays),
		D5:  PercentChange(bars, asOf, s.D5, maxStaleDays),
		M1:  PercentChange(bars, asOf, s.M1, maxStaleDays),
		M3:  PercentChange(bars, asOf, s.M3, maxStaleDays),
		M6:  PercentChange(bars, asOf, s.M6, maxStaleDays),
		M9:  PercentChange(bars, asOf, s.M9, maxStaleDays),
		M12: PercentChange(bars, asOf, s.M12, maxStaleDays),
		Y1:  PercentChange(bars, asOf, s.Y1, maxStaleDays),
	}
}

// PercentChange returns the change from the close on or before asOf-lookback
// to the close on or before asOf. It is null when either bar is missing, when
// the earlier close is zero, or when the earlier bar is more than maxStaleDays
// older than the lookback target (0 disables the staleness check).
func PercentChange(bars []Bar, asOf time.Time, h Horizon, maxStaleDays int) null.Float {
	cur := indexAtOrBefore(bars, asOf)
	if cur < 0 {
		return null.Float{}
	}

	var then int
	switch {
	case h.Bars > 0:
		then = cur - h.Bars
		if then < 0 {
			return null.Float{}
		}
	case h.Days > 0:
		target := Day(asOf).AddDate(0, 0, -h.Days)
		then = indexAtOrBefore(bars, target)
		if then < 0 {
			return null.Float{}
		}
		if maxStaleDays > 0 && Day(bars[then].Date).Before(target.AddDate(0, 0, -maxStaleDays)) {
			return null.Float{}
		}
	default:
		return null.Float{}
	}

	return pctChange(bars[cur].Close, bars[then].Close)
}

func pctChange(now, then float64) null.Float {
	if then == 0 {
		return null.Float{}
	}
	return null.FloatFrom((now - then) / then * 100)
}

// Day truncates t to midnight UTC of its calendar date
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// indexAtOrBefore returns the index of the last bar dated on or before date, or -1
func indexAtOrBefore(bars []Bar, date time.Time) int {
	d := Day(date)
	i := sort.Search(len(bars), func(i int) bool {
		return Day(bars[i].Date).After(d)
	})
	return i - 1
}

// UpTo returns the prefix of bars dated on or before asOf
func UpTo(bars []Bar, asOf time.Time) []Bar {
	return bars[:indexAtOrBefore(bars, asOf)+1]
}
