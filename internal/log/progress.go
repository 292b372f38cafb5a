package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ProgressIndicator reports progress of a long-running batch loop as
// structured log lines
type ProgressIndicator struct {
	mu        sync.Mutex
	name      string
	total     int
	current   int
	failed    int
	startTime time.Time
	now       func() time.Time
}

// NewProgressIndicator creates a new progress indicator
func NewProgressIndicator(name string, total int) *ProgressIndicator {
	return &ProgressIndicator{
		name:      name,
		total:     total,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Add records n more completed items, failed of which did not succeed
func (pi *ProgressIndicator) Add(n, failed int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current += n
	pi.failed += failed
	pi.event(log.Info()).Msg("Progress")
}

// Current returns completed and failed counts
func (pi *ProgressIndicator) Current() (done, failed int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.current, pi.failed
}

// ETA estimates the time to completion from the average rate so far
func (pi *ProgressIndicator) ETA() time.Duration {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.eta()
}

func (pi *ProgressIndicator) eta() time.Duration {
	if pi.total <= 0 || pi.current <= 0 || pi.current >= pi.total {
		return 0
	}
	elapsed := pi.now().Sub(pi.startTime)
	rate := float64(pi.current) / elapsed.Seconds()
	remaining := pi.total - pi.current
	eta := time.Duration(float64(remaining)/rate) * time.Second

	if eta > time.Hour {
		return eta.Round(time.Minute)
	}
	return eta.Round(time.Second)
}

// Finish logs the final tally
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.event(log.Info()).
		Dur("duration", pi.now().Sub(pi.startTime).Round(time.Millisecond)).
		Msg("Completed")
}

func (pi *ProgressIndicator) event(e *zerolog.Event) *zerolog.Event {
	e = e.Str("task", pi.name).
		Int("done", pi.current).
		Int("total", pi.total).
		Int("failed", pi.failed)
	if pi.total > 0 {
		e = e.Float64("pct", float64(pi.current)/float64(pi.total)*100)
	}
	if eta := pi.eta(); eta > 0 {
		e = e.Dur("eta", eta)
	}
	return e
}
