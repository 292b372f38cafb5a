package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stockmetrics/internal/domain/metrics"
	"github.com/sawpanic/stockmetrics/internal/infrastructure/lock"
	"github.com/sawpanic/stockmetrics/internal/persistence"
)

var (
	// ErrIncompleteRun is returned when some records for the date could not be written
	ErrIncompleteRun = errors.New("incomplete run")

	// ErrRunInProgress is returned when another run holds the lock for the date
	ErrRunInProgress = errors.New("run already in progress")

	// ErrTooManyFailures is returned when per-symbol failures exceed the configured ratio
	ErrTooManyFailures = errors.New("too many symbol failures")
)

// State is a run lifecycle state
type State string

const (
	StateIdle              State = "idle"
	StateResolvingUniverse State = "resolving_universe"
	StateComputingBatches  State = "computing_batches"
	StateRanking           State = "ranking"
	StatePersisting        State = "persisting"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

const dateLayout = "2006-01-02"

// Notifier is told about every finished run
type Notifier interface {
	NotifyRun(ctx context.Context, report *RunReport) error
}

// Recorder receives run telemetry
type Recorder interface {
	SetState(state string)
	ObserveRun(outcome string, duration time.Duration)
	AddSymbols(processed, failed int)
	ObserveWrite(rows int, duration time.Duration, err error)
	IncWriteRetries()
}

type noopRecorder struct{}

func (noopRecorder) SetState(string) {}
func (noopRecorder) ObserveRun(string, time.Duration) {}
func (noopRecorder) AddSymbols(int, int) {}
func (noopRecorder) ObserveWrite(int, time.Duration, error) {}
func (noopRecorder) IncWriteRetries() {}

// Deps are the collaborators of an Engine. Runs, Locker, Notifier and
// Recorder are optional.
type Deps struct {
	Prices   persistence.PriceReader
	Universe persistence.UniverseRepo
	Metrics  persistence.MetricsRepo
	Runs     persistence.RunsRepo
	Locker   lock.Locker
	Notifier Notifier
	Recorder Recorder
}

// RunRequest selects the date of a run. A zero Date means the latest
// trading date; a zero BatchSize uses the configured one.
type RunRequest struct {
	Date      time.Time
	BatchSize int
}

// RunReport describes the outcome of one run
type RunReport struct {
	RunID         string                    `json:"run_id"`
	Date          time.Time                 `json:"calculation_date"`
	State         State                     `json:"state"`
	StartedAt     time.Time                 `json:"started_at"`
	FinishedAt    time.Time                 `json:"finished_at"`
	UniverseSize  int                       `json:"universe_size"`
	Computed      int                       `json:"computed"`
	Rated         int                       `json:"rated"`
	Written       int                       `json:"records_written"`
	Pruned        int64                     `json:"pruned"`
	FailedSymbols []string                  `json:"failed_symbols"`
	FailedBatches []persistence.FailedBatch `json:"failed_batches"`
	Error         string                    `json:"error,omitempty"`
}

// Duration is the wall time of the run
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Record converts the report to its ledger row
func (r *RunReport) Record() persistence.RunRecord {
	rec := persistence.RunRecord{
		ID:              r.RunID,
		CalculationDate: r.Date,
		State:           string(r.State),
		StartedAt:       r.StartedAt,
		UniverseSize:    r.UniverseSize,
		Computed:        r.Computed,
		Rated:           r.Rated,
		Written:         r.Written,
		FailedSymbols:   r.FailedSymbols,
		FailedBatches:   r.FailedBatches,
	}
	if !r.FinishedAt.IsZero() {
		rec.FinishedAt.SetValid(r.FinishedAt)
	}
	if r.Error != "" {
		rec.Error.SetValid(r.Error)
	}
	return rec
}

// Engine computes, ranks and persists the metrics for one date per run
type Engine struct {
	prices   persistence.PriceReader
	universe persistence.UniverseRepo
	store    persistence.MetricsRepo
	runs     persistence.RunsRepo
	locker   lock.Locker
	notifier Notifier
	recorder Recorder

	calc    *metrics.Calculator
	options Options
	writer  WriterOptions
	columns persistence.ColumnSet

	state atomic.Value
	now   func() time.Time
}

// New validates options and wires an engine
func New(deps Deps, options Options, writer WriterOptions) (*Engine, error) {
	if deps.Prices == nil || deps.Universe == nil || deps.Metrics == nil {
		return nil, fmt.Errorf("prices, universe and metrics repositories are required")
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine options: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return nil, fmt.Errorf("invalid writer options: %w", err)
	}
	columns, err := persistence.ColumnProfile(writer.Columns)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		prices:   deps.Prices,
		universe: deps.Universe,
		store:    deps.Metrics,
		runs:     deps.Runs,
		locker:   deps.Locker,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		calc:     metrics.NewCalculator(options.Metrics),
		options:  options,
		writer:   writer,
		columns:  columns,
		now:      time.Now,
	}
	if e.locker == nil {
		e.locker = lock.NoopLocker{}
	}
	if e.recorder == nil {
		e.recorder = noopRecorder{}
	}
	e.state.Store(StateIdle)
	return e, nil
}

// State returns the state of the current or last run
func (e *Engine) State() State {
	return e.state.Load().(State)
}

// Columns returns the column set this engine writes
func (e *Engine) Columns() persistence.ColumnSet {
	return e.columns
}

// Run executes one full run. The report is returned even when the run fails,
// except when it could not start (no date, lock held).
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	date := req.Date
	if date.IsZero() {
		latest, err := e.prices.LatestTradingDate(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve latest trading date: %w", err)
		}
		date = latest
	}
	date = metrics.Day(date)

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = e.options.BatchSize
	}

	held, err := e.locker.TryLock(ctx, "run:"+date.Format(dateLayout), e.options.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return nil, fmt.Errorf("%s: %w", date.Format(dateLayout), ErrRunInProgress)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Time("date", date).Msg("Failed to release run lock")
		}
	}()

	report := &RunReport{
		RunID:     uuid.NewString(),
		Date:      date,
		State:     StateIdle,
		StartedAt: e.now(),
	}

	log.Info().
		Str("run_id", report.RunID).
		Time("date", date).
		Int("batch_size", batchSize).
		Strs("columns", e.columns).
		Msg("Starting metrics run")

	e.saveRun(ctx, report)

	runErr := e.execute(ctx, report, batchSize)

	report.FinishedAt = e.now()
	if runErr != nil {
		report.Error = runErr.Error()
		e.transition(report, StateFailed)
	} else {
		e.transition(report, StateDone)
	}

	finishCtx := context.WithoutCancel(ctx)
	e.saveRun(finishCtx, report)
	e.recorder.ObserveRun(string(report.State), report.Duration())

	evt := log.Info()
	if runErr != nil {
		evt = log.Error().Err(runErr)
	}
	evt.Str("run_id", report.RunID).
		Time("date", date).
		Int("universe", report.UniverseSize).
		Int("computed", report.Computed).
		Int("rated", report.Rated).
		Int("written", report.Written).
		Int("failed_symbols", len(report.FailedSymbols)).
		Int("failed_batches", len(report.FailedBatches)).
		Dur("duration", report.Duration()).
		Msg("Metrics run finished")

	if e.notifier != nil {
		if err := e.notifier.NotifyRun(finishCtx, report); err != nil {
			log.Warn().Err(err).Str("run_id", report.RunID).Msg("Run notification failed")
		}
	}

	return report, runErr
}

func (e *Engine) execute(ctx context.Context, report *RunReport, batchSize int) error {
	e.transition(report, StateResolvingUniverse)

	symbols, err := e.universe.ListSymbols(ctx, persistence.UniverseFilter{
		AssetTypes:         e.options.Universe.AssetTypes,
		Country:            e.options.Universe.Country,
		AsOf:               report.Date,
		RequirePriceOnDate: e.options.Universe.RequirePriceOnDate,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve universe: %w", err)
	}
	symbols = uniqueSorted(symbols)
	report.UniverseSize = len(symbols)

	if len(symbols) == 0 {
		// Nothing to compute or prune; prior rows for the date are left as they are
		log.Warn().Time("date", report.Date).Msg("Empty universe, nothing to compute")
		return nil
	}

	e.transition(report, StateComputingBatches)
	results, err := e.computeAll(ctx, report.Date, symbols, batchSize)
	if err != nil {
		return err
	}

	// Malformed series are data, not outages: they are written as null
	// records and do not count toward the failure ratio.
	unread := 0
	for _, r := range results {
		if r.Err != nil {
			report.FailedSymbols = append(report.FailedSymbols, r.Symbol)
			if !errors.Is(r.Err, metrics.ErrMalformedBars) {
				unread++
			}
		}
	}
	report.Computed = len(results) - len(report.FailedSymbols)

	ratio := float64(unread) / float64(len(results))
	if ratio > e.options.MaxFailureRatio {
		return fmt.Errorf("%d of %d symbols could not be computed: %w", unread, len(results), ErrTooManyFailures)
	}

	e.transition(report, StateRanking)
	records, rated := rankResults(results, report.Date)
	report.Rated = rated

	e.transition(report, StatePersisting)
	written, failed := e.persist(ctx, records)
	report.Written = written
	report.FailedBatches = failed
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d records not written in %d batches: %w",
			len(records)-written, len(records), len(failed), ErrIncompleteRun)
	}

	if e.options.PruneStale {
		n, err := e.store.ClearStale(ctx, report.Date, symbols, e.columns)
		if err != nil {
			return fmt.Errorf("failed to prune stale rows: %w", err)
		}
		report.Pruned = n
		if n > 0 {
			log.Info().Int64("rows", n).Time("date", report.Date).Msg("Cleared rows for symbols no longer in universe")
		}
	}

	return nil
}

func (e *Engine) transition(report *RunReport, to State) {
	from := report.State
	report.State = to
	e.state.Store(to)
	e.recorder.SetState(string(to))

	log.Debug().
		Str("run_id", report.RunID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Run state changed")
}

func (e *Engine) saveRun(ctx context.Context, report *RunReport) {
	if e.runs == nil {
		return
	}
	if err := e.runs.Save(ctx, report.Record()); err != nil {
		log.Warn().Err(err).Str("run_id", report.RunID).Msg("Failed to save run ledger entry")
	}
}
