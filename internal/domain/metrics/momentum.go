package metrics

import (
	"fmt"
	"math"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// Weights combine the four quarterly returns into the weighted change.
// Q1 applies to the most recent quarter.
type Weights struct {
	Q1 float64 `yaml:"q1"`
	Q2 float64 `yaml:"q2"`
	Q3 float64 `yaml:"q3"`
	Q4 float64 `yaml:"q4"`
}

// DefaultWeights doubles the most recent quarter
func DefaultWeights() Weights {
	return Weights{Q1: 0.4, Q2: 0.2, Q3: 0.2, Q4: 0.2}
}

// Validate requires non-negative weights summing to one
func (w Weights) Validate() error {
	for _, v := range []float64{w.Q1, w.Q2, w.Q3, w.Q4} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("momentum weights must be non-negative, got %+v", w)
		}
	}
	if sum := w.Q1 + w.Q2 + w.Q3 + w.Q4; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("momentum weights must sum to 1, got %.6f", sum)
	}
	return nil
}

// Score returns the weighted change, null if any horizon is unavailable
func (w Weights) Score(r Returns) null.Float {
	if !r.M3.Valid || !r.M6.Valid || !r.M9.Valid || !r.M12.Valid {
		return null.Float{}
	}
	return null.FloatFrom(w.Q1*r.M3.Float64 + w.Q2*r.M6.Float64 + w.Q3*r.M9.Float64 + w.Q4*r.M12.Float64)
}

// Round rounds half away from zero to the given number of places
func Round(v null.Float, places int32) null.Float {
	if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
		return null.Float{}
	}
	f, _ := decimal.NewFromFloat(v.Float64).Round(places).Float64()
	return null.FloatFrom(f)
}
