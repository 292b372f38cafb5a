package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stockmetrics/internal/infrastructure/async"
	"github.com/sawpanic/stockmetrics/internal/persistence"
)

type chunkOutcome struct {
	written int
	failed  []persistence.MetricsRecord
	err     error
}

// persist upserts records in bounded chunks. Chunks not yet started when ctx
// is cancelled are reported as failed along with those whose retries ran out.
func (e *Engine) persist(ctx context.Context, records []persistence.MetricsRecord) (int, []persistence.FailedBatch) {
	chunks := chunk(records, e.writer.BatchSize)

	out := async.Map(context.WithoutCancel(ctx), chunks, e.writer.Concurrency, func(_ context.Context, i int, c []persistence.MetricsRecord) (chunkOutcome, error) {
		if err := ctx.Err(); err != nil {
			return chunkOutcome{failed: c, err: fmt.Errorf("write cancelled: %w", err)}, nil
		}
		// Started chunks finish even if the run is cancelled meanwhile
		return e.writeChunk(context.WithoutCancel(ctx), i, c), nil
	})

	written := 0
	var failed []persistence.FailedBatch
	for i, r := range out {
		res := r.Value
		if r.Err != nil {
			res = chunkOutcome{failed: chunks[i], err: r.Err}
		}
		written += res.written
		if len(res.failed) == 0 {
			continue
		}

		batch := persistence.FailedBatch{
			Index:   i,
			Symbols: make([]string, len(res.failed)),
			Error:   res.err.Error(),
		}
		for j, rec := range res.failed {
			batch.Symbols[j] = rec.Symbol
		}
		failed = append(failed, batch)

		log.Error().
			Err(res.err).
			Int("batch", i).
			Int("rows", len(res.failed)).
			Msg("Write batch failed")
	}

	return written, failed
}

// writeChunk upserts one chunk with retries. Resource exhaustion is not
// retried at the same size: the chunk is halved until MinBatchSize.
func (e *Engine) writeChunk(ctx context.Context, index int, records []persistence.MetricsRecord) chunkOutcome {
	splittable := len(records) > e.writer.MinBatchSize && len(records) > 1
	retry := async.PoolConfig{MaxRetries: e.writer.MaxRetries, RetryBackoff: e.writer.RetryBackoff}

	start := time.Now()
	err := async.Retry(ctx, retry,
		func(ctx context.Context) error {
			return e.store.UpsertBatch(ctx, records, e.columns)
		},
		func(err error) bool {
			return !(splittable && errors.Is(err, persistence.ErrResourceExhausted))
		},
		func(attempt int, err error) {
			e.recorder.IncWriteRetries()
			log.Warn().
				Err(err).
				Int("batch", index).
				Int("rows", len(records)).
				Int("attempt", attempt).
				Msg("Retrying write batch")
		})
	e.recorder.ObserveWrite(len(records), time.Since(start), err)

	if err == nil {
		return chunkOutcome{written: len(records)}
	}

	if splittable && errors.Is(err, persistence.ErrResourceExhausted) {
		mid := len(records) / 2
		log.Warn().
			Err(err).
			Int("batch", index).
			Int("rows", len(records)).
			Int("split", mid).
			Msg("Store resources exhausted, splitting write batch")

		left := e.writeChunk(ctx, index, records[:mid])
		right := e.writeChunk(ctx, index, records[mid:])

		merged := chunkOutcome{
			written: left.written + right.written,
			failed:  append(append([]persistence.MetricsRecord{}, left.failed...), right.failed...),
			err:     left.err,
		}
		if merged.err == nil {
			merged.err = right.err
		}
		return merged
	}

	return chunkOutcome{failed: records, err: err}
}
