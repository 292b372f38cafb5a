package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// GuardConfig bundles the protections applied to every price store call
type GuardConfig struct {
	CallTimeout time.Duration        `yaml:"call_timeout"`
	RateLimit   RateLimitConfig      `yaml:"rate_limit"`
	Breaker     CircuitBreakerConfig `yaml:"breaker"`
}

// DefaultGuardConfig returns a 10s per-call timeout, 200 queries/s and the
// default breaker
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		CallTimeout: 10 * time.Second,
		RateLimit:   RateLimitConfig{RequestsPerSecond: 200, Burst: 20},
		Breaker:     DefaultCircuitBreakerConfig(),
	}
}

// GuardedReader wraps a PriceReader with rate limiting, a per-call timeout
// and a circuit breaker
type GuardedReader struct {
	next    persistence.PriceReader
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewGuardedReader creates a guarded reader around next
func NewGuardedReader(next persistence.PriceReader, config GuardConfig) *GuardedReader {
	if config.Breaker.Name == "" {
		config.Breaker.Name = "price-store"
	}
	return &GuardedReader{
		next:    next,
		limiter: newLimiter(config.RateLimit),
		breaker: newCircuitBreaker(config.Breaker),
		timeout: config.CallTimeout,
	}
}

// Bars implements persistence.PriceReader
func (g *GuardedReader) Bars(ctx context.Context, symbol string, from, to time.Time) ([]persistence.PriceBar, error) {
	res, err := g.call(ctx, func(ctx context.Context) (interface{}, error) {
		return g.next.Bars(ctx, symbol, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("bars for %s: %w", symbol, err)
	}
	return res.([]persistence.PriceBar), nil
}

// LatestTradingDate implements persistence.PriceReader
func (g *GuardedReader) LatestTradingDate(ctx context.Context) (time.Time, error) {
	res, err := g.call(ctx, func(ctx context.Context) (interface{}, error) {
		return g.next.LatestTradingDate(ctx)
	})
	if err != nil {
		return time.Time{}, err
	}
	return res.(time.Time), nil
}

// TradingDates implements persistence.PriceReader
func (g *GuardedReader) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	res, err := g.call(ctx, func(ctx context.Context) (interface{}, error) {
		return g.next.TradingDates(ctx, from, to)
	})
	if err != nil {
		return nil, err
	}
	return res.([]time.Time), nil
}

// Status reports the breaker counters
func (g *GuardedReader) Status() BreakerStatus {
	return breakerStatus(g.breaker)
}

func (g *GuardedReader) call(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if err := wait(ctx, g.limiter); err != nil {
		return nil, err
	}

	return g.breaker.Execute(func() (interface{}, error) {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return fn(callCtx)
	})
}
