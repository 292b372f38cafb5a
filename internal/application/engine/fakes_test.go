package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/stockmetrics/internal/infrastructure/lock"
	"github.com/sawpanic/stockmetrics/internal/persistence"
)

var calcDate = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

// trendBars builds one bar per calendar day for n days ending on end. The
// slope depends on k so symbols get distinct weighted changes.
func trendBars(symbol string, k int, end time.Time, n int) []persistence.PriceBar {
	bars := make([]persistence.PriceBar, n)
	for i := 0; i < n; i++ {
		c := 50 + float64(k)*0.1 + float64(i)*0.01*float64(1+k%13)
		bars[i] = persistence.PriceBar{
			Symbol: symbol,
			Date:   end.AddDate(0, 0, i-n+1),
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: int64(1000 + i),
		}
	}
	return bars
}

func symbolNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("S%03d", i+1)
	}
	return out
}

type fakePrices struct {
	mu      sync.Mutex
	bars    map[string][]persistence.PriceBar
	errs    map[string]error
	panicOn string
	onBars  func(symbol string)
	latest  time.Time
	dates   []time.Time
	calls   int
}

func newFakePrices(symbols []string, end time.Time) *fakePrices {
	p := &fakePrices{
		bars:   map[string][]persistence.PriceBar{},
		errs:   map[string]error{},
		latest: end,
	}
	for k, s := range symbols {
		p.bars[s] = trendBars(s, k, end, 420)
	}
	return p
}

func (p *fakePrices) Bars(ctx context.Context, symbol string, from, to time.Time) ([]persistence.PriceBar, error) {
	p.mu.Lock()
	p.calls++
	hook := p.onBars
	err := p.errs[symbol]
	all := p.bars[symbol]
	p.mu.Unlock()

	if hook != nil {
		hook(symbol)
	}
	if symbol == p.panicOn {
		panic("corrupt row buffer")
	}
	if err != nil {
		return nil, err
	}

	var out []persistence.PriceBar
	for _, b := range all {
		if !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (p *fakePrices) LatestTradingDate(ctx context.Context) (time.Time, error) {
	if p.latest.IsZero() {
		return time.Time{}, persistence.ErrNoData
	}
	return p.latest, nil
}

func (p *fakePrices) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, d := range p.dates {
		if !d.Before(from) && !d.After(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeUniverse struct {
	symbols []string
	err     error
	filters []persistence.UniverseFilter
}

func (u *fakeUniverse) ListSymbols(ctx context.Context, filter persistence.UniverseFilter) ([]string, error) {
	u.filters = append(u.filters, filter)
	if u.err != nil {
		return nil, u.err
	}
	return u.symbols, nil
}

type upsertCall struct {
	symbols []string
	columns persistence.ColumnSet
}

type clearCall struct {
	date time.Time
	keep []string
}

type fakeStore struct {
	mu        sync.Mutex
	rows      map[string]persistence.MetricsRecord
	calls     []upsertCall
	cleared   []clearCall
	existing  []time.Time
	upsertErr func(call int, records []persistence.MetricsRecord) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]persistence.MetricsRecord{}}
}

func rowKey(symbol string, date time.Time) string {
	return symbol + "|" + date.Format(dateLayout)
}

func (s *fakeStore) UpsertBatch(ctx context.Context, records []persistence.MetricsRecord, columns persistence.ColumnSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := upsertCall{columns: columns}
	for _, r := range records {
		call.symbols = append(call.symbols, r.Symbol)
	}
	s.calls = append(s.calls, call)

	if s.upsertErr != nil {
		if err := s.upsertErr(len(s.calls), records); err != nil {
			return err
		}
	}
	for _, r := range records {
		s.rows[rowKey(r.Symbol, r.CalculationDate)] = r
	}
	return nil
}

func (s *fakeStore) ClearStale(ctx context.Context, date time.Time, keep []string, columns persistence.ColumnSet) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, clearCall{date: date, keep: keep})

	kept := map[string]bool{}
	for _, k := range keep {
		kept[rowKey(k, date)] = true
	}
	var n int64
	for key, r := range s.rows {
		if r.CalculationDate.Equal(date) && !kept[key] {
			s.rows[key] = persistence.MetricsRecord{Symbol: r.Symbol, CalculationDate: date}
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) GetBySymbolDate(ctx context.Context, symbol string, date time.Time) (*persistence.MetricsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[rowKey(symbol, date)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *fakeStore) LatestDate(ctx context.Context) (time.Time, error) {
	return time.Time{}, persistence.ErrNoData
}

func (s *fakeStore) ListLatest(ctx context.Context, filter persistence.ScreenFilter) ([]persistence.MetricsRecord, error) {
	return nil, nil
}

func (s *fakeStore) ExistingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	return s.existing, nil
}

func (s *fakeStore) callSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.calls))
	for i, c := range s.calls {
		out[i] = len(c.symbols)
	}
	return out
}

func (s *fakeStore) rowsFor(date time.Time) []persistence.MetricsRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persistence.MetricsRecord
	for _, r := range s.rows {
		if r.CalculationDate.Equal(date) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

type fakeRuns struct {
	mu     sync.Mutex
	saved  []persistence.RunRecord
	byDate map[string]*persistence.RunRecord
}

func (r *fakeRuns) Save(ctx context.Context, run persistence.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, run)
	return nil
}

func (r *fakeRuns) LatestForDate(ctx context.Context, date time.Time) (*persistence.RunRecord, error) {
	return r.byDate[date.Format(dateLayout)], nil
}

func (r *fakeRuns) Latest(ctx context.Context) (*persistence.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return nil, nil
	}
	last := r.saved[len(r.saved)-1]
	return &last, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, fmt.Errorf("%s: %w", key, lock.ErrLocked)
	}
	l.held[key] = true
	return &fakeLock{locker: l, key: key}, nil
}

type fakeLock struct {
	locker *fakeLocker
	key    string
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.locker.mu.Lock()
	defer f.locker.mu.Unlock()
	delete(f.locker.held, f.key)
	f.locker.released = append(f.locker.released, f.key)
	return nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	states    []string
	processed int
	failed    int
	writes    int
	retries   int
	outcome   string
}

func (r *fakeRecorder) SetState(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *fakeRecorder) ObserveRun(outcome string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = outcome
}

func (r *fakeRecorder) AddSymbols(processed, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed += processed
	r.failed += failed
}

func (r *fakeRecorder) ObserveWrite(rows int, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
}

func (r *fakeRecorder) IncWriteRetries() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

type fakeNotifier struct {
	reports []*RunReport
}

func (n *fakeNotifier) NotifyRun(ctx context.Context, report *RunReport) error {
	n.reports = append(n.reports, report)
	return nil
}

// syncBuffer collects log output from concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
