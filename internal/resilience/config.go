package resilience

import (
	"context"
	"time"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// Policy combines retry and circuit breaking for one remote service.
// A zero Policy retries with defaults and never breaks.
type Policy struct {
	Service string
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// Call runs fn under p: every attempt passes through the breaker, and only
// transient failures are retried. An open circuit is not retried.
func Call[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := p.Retry
	if retry.OnRetry == nil && p.Service != "" {
		retry.OnRetry = RetryLogger(p.Service, operation)
	}
	if p.Breaker == nil {
		return DoVal(ctx, retry, fn)
	}
	return DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		return ExecuteVal(ctx, p.Breaker, fn)
	})
}
