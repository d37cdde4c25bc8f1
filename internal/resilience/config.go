package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-orchestrator/internal/model"
)

// FromRetryConfig converts config values to a RetryConfig. Zero values keep
// the NoRetry defaults.
func FromRetryConfig(maxAttempts, initialBackoffMs int) RetryConfig {
	cfg := NoRetry()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	return cfg
}

// FromBreakerConfig converts config values to a BreakerConfig.
func FromBreakerConfig(failureThreshold, resetSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetSecs) * time.Second
	}
	return cfg
}

// Guard runs service calls through the service's breaker and a retry policy.
type Guard struct {
	breakers *Breakers
	retry    RetryConfig
}

// NewGuard creates a guard. A nil registry gets default breakers.
func NewGuard(breakers *Breakers, retry RetryConfig) *Guard {
	if breakers == nil {
		breakers = NewBreakers(DefaultBreakerConfig())
	}
	return &Guard{breakers: breakers, retry: retry}
}

// Breakers exposes the underlying registry.
func (g *Guard) Breakers() *Breakers {
	return g.breakers
}

// Call invokes fn for service/operation. Any failure, including an open
// breaker, comes back wrapped as model.ErrUpstreamUnavailable; context
// cancellation is returned as is.
func Call[T any](ctx context.Context, g *Guard, service, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	b := g.breakers.Get(service)
	retry := g.retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(service, operation)
	}

	val, err := Do(ctx, retry, func(ctx context.Context) (T, error) {
		var zero T
		if err := b.Allow(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			b.Release()
		} else {
			b.Record(err)
		}
		return v, err
	})
	if err == nil {
		return val, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return val, err
	}
	return val, eris.Wrapf(model.ErrUpstreamUnavailable, "%s %s: %v", service, operation, err)
}
