package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stockmetrics/internal/domain/metrics"
	"github.com/sawpanic/stockmetrics/internal/infrastructure/async"
	logprogress "github.com/sawpanic/stockmetrics/internal/log"
	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// SymbolResult is the immutable output of one symbol's computation.
// Err is set when the symbol failed; the snapshot is then all-null.
type SymbolResult struct {
	Symbol   string
	Snapshot metrics.Snapshot
	Err      error
}

// computeAll runs the calculators batch by batch. Cancellation is honoured
// between batches; a started batch runs to completion.
func (e *Engine) computeAll(ctx context.Context, date time.Time, symbols []string, batchSize int) ([]SymbolResult, error) {
	from := date.AddDate(0, 0, -e.calc.Config().HistoryDays())
	batches := chunk(symbols, batchSize)
	results := make([]SymbolResult, 0, len(symbols))
	progress := logprogress.NewProgressIndicator("compute", len(symbols))

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run cancelled before batch %d of %d: %w", i+1, len(batches), err)
		}

		batchCtx := context.WithoutCancel(ctx)
		out := async.Map(batchCtx, batch, e.options.Concurrency, func(ctx context.Context, _ int, symbol string) (SymbolResult, error) {
			return e.computeSymbol(ctx, symbol, from, date), nil
		})

		failed := 0
		for j, r := range out {
			res := r.Value
			if r.Err != nil {
				res = SymbolResult{
					Symbol:   batch[j],
					Snapshot: metrics.Snapshot{Symbol: batch[j], AsOf: date},
					Err:      r.Err,
				}
			}
			if res.Err != nil {
				failed++
				logSymbolFailure(res, date, i)
			}
			results = append(results, res)
		}

		e.recorder.AddSymbols(len(batch), failed)
		progress.Add(len(batch), failed)
	}

	progress.Finish()
	return results, nil
}

func (e *Engine) computeSymbol(ctx context.Context, symbol string, from, date time.Time) SymbolResult {
	rows, err := e.prices.Bars(ctx, symbol, from, date)
	if err != nil {
		return SymbolResult{
			Symbol:   symbol,
			Snapshot: metrics.Snapshot{Symbol: symbol, AsOf: date},
			Err:      fmt.Errorf("failed to read bars: %w", err),
		}
	}

	snap, err := e.calc.Compute(symbol, toBars(rows), date)
	return SymbolResult{Symbol: symbol, Snapshot: snap, Err: err}
}

func logSymbolFailure(res SymbolResult, date time.Time, batch int) {
	evt := log.Error().
		Str("symbol", res.Symbol).
		Time("date", date).
		Int("batch", batch)

	var perr *async.PanicError
	if errors.As(res.Err, &perr) {
		evt = evt.Str("stack", string(perr.Stack))
	}
	evt.Err(res.Err).Msg("Symbol computation failed")
}

// rankResults is the single reducer over the full population: it ranks
// weighted scores and builds the final records
func rankResults(results []SymbolResult, date time.Time) ([]persistence.MetricsRecord, int) {
	scores := make([]metrics.Score, len(results))
	for i, r := range results {
		scores[i] = metrics.Score{Symbol: r.Symbol, Value: r.Snapshot.WeightedChange}
	}
	ratings := metrics.Rank(scores)

	records := make([]persistence.MetricsRecord, len(results))
	rated := 0
	for i, r := range results {
		rating := ratings[r.Symbol]
		if rating.Valid {
			rated++
		}
		records[i] = ToRecord(r.Snapshot, date, rating)
	}
	return records, rated
}

func toBars(rows []persistence.PriceBar) []metrics.Bar {
	bars := make([]metrics.Bar, len(rows))
	for i, r := range rows {
		bars[i] = metrics.Bar{
			Date:   r.Date,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return bars
}

func uniqueSorted(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
