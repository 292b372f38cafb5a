package alerts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stockmetrics/internal/application/engine"
	atomicio "github.com/sawpanic/stockmetrics/internal/io"
)

// Emitter writes every run report as a JSON artifact under Dir:
// runs/<date>/<run_id>.json plus runs/latest.json
type Emitter struct {
	Dir string
}

// NewEmitter creates an emitter rooted at dir
func NewEmitter(dir string) *Emitter {
	return &Emitter{Dir: dir}
}

// NotifyRun implements engine.Notifier
func (e *Emitter) NotifyRun(ctx context.Context, report *engine.RunReport) error {
	path := filepath.Join(e.Dir, "runs", report.Date.Format("2006-01-02"), report.RunID+".json")
	if err := atomicio.WriteJSONAtomic(path, report); err != nil {
		return fmt.Errorf("failed to write run artifact: %w", err)
	}
	if err := atomicio.WriteJSONAtomic(filepath.Join(e.Dir, "runs", "latest.json"), report); err != nil {
		return fmt.Errorf("failed to write latest run artifact: %w", err)
	}

	log.Debug().Str("path", path).Msg("Run artifact written")
	return nil
}

// Multi fans a run report out to several notifiers. Every notifier is
// called; their errors are joined.
type Multi []engine.Notifier

// NotifyRun implements engine.Notifier
func (m Multi) NotifyRun(ctx context.Context, report *engine.RunReport) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifyRun(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
