package providers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/stockmetrics/internal/persistence"
)

// CircuitBreakerConfig controls when the price store is considered down
type CircuitBreakerConfig struct {
	Name                string        `yaml:"name"`
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold"`
	MinRequests         uint32        `yaml:"min_requests"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// DefaultCircuitBreakerConfig trips after 5 consecutive failures, or when
// half of at least 20 calls in a minute failed
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                "price-store",
		MaxRequests:         2,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  50.0,
		MinRequests:         20,
		ConsecutiveFailures: 5,
	}
}

// BreakerStatus reports the breaker state for health endpoints
type BreakerStatus struct {
	Name                string  `json:"name"`
	State               string  `json:"state"`
	Requests            uint32  `json:"requests"`
	TotalFailures       uint32  `json:"total_failures"`
	ConsecutiveFailures uint32  `json:"consecutive_failures"`
	ErrorRate           float64 `json:"error_rate"`
}

func newCircuitBreaker(config CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:          config.Name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   tripCondition(config),
		OnStateChange: logStateChange,
		IsSuccessful:  isSuccessful,
	})
}

func tripCondition(config CircuitBreakerConfig) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		// Trip on error rate threshold
		if config.MinRequests > 0 && counts.Requests >= config.MinRequests {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			if errorRate >= config.ErrorRateThreshold {
				return true
			}
		}

		// Trip on consecutive failures
		return config.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= config.ConsecutiveFailures
	}
}

// isSuccessful keeps empty results and caller cancellation from counting
// against the store
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, persistence.ErrNoData) ||
		errors.Is(err, context.Canceled)
}

func logStateChange(name string, from, to gobreaker.State) {
	evt := log.Info()
	if to == gobreaker.StateOpen {
		evt = log.Warn()
	}
	evt.Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state changed")
}

func breakerStatus(cb *gobreaker.CircuitBreaker) BreakerStatus {
	counts := cb.Counts()

	var errorRate float64
	if counts.Requests > 0 {
		errorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
	}

	return BreakerStatus{
		Name:                cb.Name(),
		State:               cb.State().String(),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		ErrorRate:           errorRate,
	}
}
