package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stockmetrics/internal/domain/metrics"
)

// BackfillRequest covers the trading dates in [Start, End]
type BackfillRequest struct {
	Start           time.Time
	End             time.Time
	SkipExisting    bool
	ContinueOnError bool
	BatchSize       int
}

// BackfillReport lists what happened to each date
type BackfillReport struct {
	Succeeded []time.Time       `json:"succeeded"`
	Skipped   []time.Time       `json:"skipped"`
	Failed    []time.Time       `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
	Runs      []*RunReport      `json:"runs,omitempty"`
}

// Backfill runs the engine once per trading date, oldest first. A date is
// skipped when it already has rows and its last ledgered run completed.
func (e *Engine) Backfill(ctx context.Context, req BackfillRequest) (*BackfillReport, error) {
	start, end := metrics.Day(req.Start), metrics.Day(req.End)
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil, fmt.Errorf("invalid backfill range %s..%s", start.Format(dateLayout), end.Format(dateLayout))
	}

	dates, err := e.prices.TradingDates(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list trading dates: %w", err)
	}

	existing := map[time.Time]bool{}
	if req.SkipExisting {
		have, err := e.store.ExistingDates(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to list existing dates: %w", err)
		}
		for _, d := range have {
			existing[metrics.Day(d)] = true
		}
	}

	report := &BackfillReport{Errors: map[string]string{}}
	log.Info().
		Time("start", start).
		Time("end", end).
		Int("dates", len(dates)).
		Int("existing", len(existing)).
		Msg("Starting backfill")

	for _, d := range dates {
		d = metrics.Day(d)
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("backfill cancelled at %s: %w", d.Format(dateLayout), err)
		}

		if existing[d] && e.lastRunComplete(ctx, d) {
			report.Skipped = append(report.Skipped, d)
			continue
		}

		run, err := e.Run(ctx, RunRequest{Date: d, BatchSize: req.BatchSize})
		if run != nil {
			report.Runs = append(report.Runs, run)
		}
		if err != nil {
			report.Failed = append(report.Failed, d)
			report.Errors[d.Format(dateLayout)] = err.Error()
			if !req.ContinueOnError || errors.Is(err, context.Canceled) {
				return report, fmt.Errorf("backfill stopped at %s: %w", d.Format(dateLayout), err)
			}
			continue
		}
		report.Succeeded = append(report.Succeeded, d)
	}

	log.Info().
		Int("succeeded", len(report.Succeeded)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Msg("Backfill finished")

	if len(report.Failed) > 0 {
		return report, fmt.Errorf("%d of %d dates failed: %w", len(report.Failed), len(dates), ErrIncompleteRun)
	}
	return report, nil
}

// lastRunComplete treats dates without a ledger entry as complete
func (e *Engine) lastRunComplete(ctx context.Context, date time.Time) bool {
	if e.runs == nil {
		return true
	}
	run, err := e.runs.LatestForDate(ctx, date)
	if err != nil {
		log.Warn().Err(err).Time("date", date).Msg("Failed to read run ledger, assuming complete")
		return true
	}
	return run == nil || run.State == string(StateDone)
}
