package metrics

import (
	"math"
	"sort"

	"github.com/guregu/null/v6"
)

// Rating bounds
const (
	MinRating = 1
	MaxRating = 99
)

// Score pairs a symbol with its weighted change for one calculation date
type Score struct {
	Symbol string
	Value  null.Float
}

// Rank assigns each symbol a 1-99 percentile of its score within the
// population of non-null scores. Scores are ordered ascending with ties
// broken by symbol; equal scores share the rank of the first of them, so a
// maximum shared by several symbols rates below 99.
// Every input symbol appears in the result, excluded ones as null, and all
// ratings are null when fewer than two scores qualify.
func Rank(scores []Score) map[string]null.Int {
	ratings := make(map[string]null.Int, len(scores))
	qualified := make([]Score, 0, len(scores))
	for _, s := range scores {
		ratings[s.Symbol] = null.Int{}
		if s.Value.Valid && !math.IsNaN(s.Value.Float64) {
			qualified = append(qualified, s)
		}
	}

	if len(qualified) < 2 {
		return ratings
	}

	sort.Slice(qualified, func(i, j int) bool {
		if qualified[i].Value.Float64 != qualified[j].Value.Float64 {
			return qualified[i].Value.Float64 < qualified[j].Value.Float64
		}
		return qualified[i].Symbol < qualified[j].Symbol
	})

	rank := 0
	for i, s := range qualified {
		if i > 0 && s.Value.Float64 != qualified[i-1].Value.Float64 {
			rank = i
		}
		ratings[s.Symbol] = null.IntFrom(Rating(rank, len(qualified)))
	}
	return ratings
}

// Rating maps a zero-based ascending rank within count symbols onto 1-99
func Rating(rank, count int) int64 {
	if count < 2 {
		return MinRating
	}
	return int64(math.Round(MinRating + float64(MaxRating-MinRating)*float64(rank)/float64(count-1)))
}
