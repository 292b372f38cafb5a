package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_PreservesOrder(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	results := Map(context.Background(), items, 7, func(_ context.Context, _ int, v int) (int, error) {
		return v * v, nil
	})

	require.Len(t, results, len(items))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i*i, r.Value)
	}
}

func TestMap_BoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	items := make([]int, 40)

	Map(context.Background(), items, 4, func(_ context.Context, _ int, _ int) (struct{}, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
}

func TestMap_RecoversPanics(t *testing.T) {
	results := Map(context.Background(), []string{"ok", "boom", "ok"}, 2, func(_ context.Context, _ int, s string) (string, error) {
		if s == "boom" {
			panic("exploded")
		}
		return s, nil
	})

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[2].Err)

	var perr *PanicError
	require.ErrorAs(t, results[1].Err, &perr)
	assert.Equal(t, "exploded", perr.Value)
	assert.NotEmpty(t, perr.Stack)
}

func TestMap_Empty(t *testing.T) {
	results := Map(context.Background(), nil, 0, func(_ context.Context, _ int, v int) (int, error) {
		return v, nil
	})
	assert.Empty(t, results)
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, time.Duration(0), Backoff(base, 0))
	assert.Equal(t, base, Backoff(base, 1))
	assert.Equal(t, 2*base, Backoff(base, 2))
	assert.Equal(t, 4*base, Backoff(base, 3))
}

func TestRetry(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")
	config := PoolConfig{MaxRetries: 3, RetryBackoff: time.Millisecond}

	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"succeeds_first_try", 0, errTransient, 1, false},
		{"succeeds_after_retries", 2, errTransient, 3, false},
		{"exhausted", 10, errTransient, 4, true},
		{"not_retryable", 10, errFatal, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			retries := 0
			err := Retry(context.Background(), config, func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			}, func(err error) bool {
				return !errors.Is(err, errFatal)
			}, func(int, error) {
				retries++
			})

			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantCalls-1, retries)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Retry(ctx, PoolConfig{MaxRetries: 5, RetryBackoff: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	}, nil, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
