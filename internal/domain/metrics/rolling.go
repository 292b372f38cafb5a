package metrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/guregu/null/v6"
)

// ErrMalformedBars is wrapped by Validate for any series that cannot be computed on
var ErrMalformedBars = errors.New("malformed bar data")

// Window sizes for the rolling statistics
const (
	ExtremesWindow = 252
	VolumeWindow   = 20
	ADRWindow      = 20
)

// Validate checks a bar series for values that would corrupt the statistics.
// It expects ascending, unique dates.
func Validate(bars []Bar) error {
	for i, b := range bars {
		for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: bar %s has non-finite price", ErrMalformedBars, b.Date.Format("2006-01-02"))
			}
		}
		if b.Close <= 0 {
			return fmt.Errorf("%w: bar %s has non-positive close %v", ErrMalformedBars, b.Date.Format("2006-01-02"), b.Close)
		}
		if b.Low < 0 || b.High < b.Low {
			return fmt.Errorf("%w: bar %s has inverted range high=%v low=%v", ErrMalformedBars, b.Date.Format("2006-01-02"), b.High, b.Low)
		}
		if b.Volume < 0 {
			return fmt.Errorf("%w: bar %s has negative volume", ErrMalformedBars, b.Date.Format("2006-01-02"))
		}
		if i > 0 && !Day(b.Date).After(Day(bars[i-1].Date)) {
			return fmt.Errorf("%w: bar %s is duplicated or out of order", ErrMalformedBars, b.Date.Format("2006-01-02"))
		}
	}
	return nil
}

// SMA is the mean close of the last n bars; null with fewer than n bars
func SMA(bars []Bar, n int) null.Float {
	if n <= 0 || len(bars) < n {
		return null.Float{}
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Close
	}
	return null.FloatFrom(sum / float64(n))
}

// Extremes returns the highest high and lowest low over the last window bars,
// or over all bars when fewer exist
func Extremes(bars []Bar, window int) (high, low null.Float) {
	if len(bars) == 0 || window <= 0 {
		return null.Float{}, null.Float{}
	}
	start := len(bars) - window
	if start < 0 {
		start = 0
	}

	h, l := bars[start].High, bars[start].Low
	for _, b := range bars[start+1:] {
		if b.High > h {
			h = b.High
		}
		if b.Low < l {
			l = b.Low
		}
	}
	return null.FloatFrom(h), null.FloatFrom(l)
}

// PercentFrom returns (value-ref)/ref*100, null when ref is null or zero
func PercentFrom(value float64, ref null.Float) null.Float {
	if !ref.Valid || ref.Float64 == 0 {
		return null.Float{}
	}
	return null.FloatFrom((value - ref.Float64) / ref.Float64 * 100)
}

// AverageVolume is the mean volume of the last n bars; null with fewer than n bars
func AverageVolume(bars []Bar, n int) null.Float {
	if n <= 0 || len(bars) < n {
		return null.Float{}
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += float64(b.Volume)
	}
	return null.FloatFrom(sum / float64(n))
}

// VolumeRatio is current/avg, null when the average is missing or zero
func VolumeRatio(current int64, avg null.Float) null.Float {
	if !avg.Valid || avg.Float64 == 0 {
		return null.Float{}
	}
	return null.FloatFrom(float64(current) / avg.Float64)
}

// DailyPercentRange is (high-low)/low*100 for one bar
func DailyPercentRange(b Bar) null.Float {
	if b.Low <= 0 {
		return null.Float{}
	}
	return null.FloatFrom((b.High - b.Low) / b.Low * 100)
}

// ADR is the mean daily percent range over the last n bars
func ADR(bars []Bar, n int) null.Float {
	if n <= 0 || len(bars) < n {
		return null.Float{}
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		r := DailyPercentRange(b)
		if !r.Valid {
			return null.Float{}
		}
		sum += r.Float64
	}
	return null.FloatFrom(sum / float64(n))
}
