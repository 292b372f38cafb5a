package async

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// PoolConfig defines worker pool and retry behavior
type PoolConfig struct {
	Workers      int           `yaml:"workers"`       // Maximum concurrent tasks
	MaxRetries   int           `yaml:"max_retries"`   // Retry attempts after the first failure
	RetryBackoff time.Duration `yaml:"retry_backoff"` // Base backoff, doubled on every attempt
}

// DefaultPoolConfig returns the pool configuration used by batch runs
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      8,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// PanicError is returned for a task that panicked
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// TaskFunc processes one item
type TaskFunc[T, R any] func(ctx context.Context, index int, item T) (R, error)

// Result pairs a task output with its error
type Result[R any] struct {
	Value R
	Err   error
}

// Map runs fn over items with at most workers tasks in flight. Results keep
// the input order. A panicking task yields a *PanicError for its slot and
// does not affect the other tasks.
func Map[T, R any](ctx context.Context, items []T, workers int, fn TaskFunc[T, R]) []Result[R] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]Result[R], len(items))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = runTask(ctx, i, items[i], fn)
			}
		}()
	}

	for i := range items {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return results
}

func runTask[T, R any](ctx context.Context, index int, item T, fn TaskFunc[T, R]) (res Result[R]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[R]{Err: &PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()
	v, err := fn(ctx, index, item)
	return Result[R]{Value: v, Err: err}
}

// Backoff returns the delay before retry attempt n (1-based)
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return base * time.Duration(1<<uint(attempt-1))
}

// Retry calls fn until it succeeds, retryable reports false, or MaxRetries
// additional attempts have failed. onRetry, if set, is called before each
// backoff sleep.
func Retry(ctx context.Context, config PoolConfig, fn func(ctx context.Context) error, retryable func(error) bool, onRetry func(attempt int, err error)) error {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			select {
			case <-time.After(Backoff(config.RetryBackoff, attempt)):
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			}
		}

		attempts++
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		// Don't retry context cancellation
		if lastErr == context.Canceled || lastErr == context.DeadlineExceeded {
			break
		}
		if retryable != nil && !retryable(lastErr) {
			break
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
