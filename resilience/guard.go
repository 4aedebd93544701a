package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GuardConfig tunes one named guard. Zero values fall back to defaults.
type GuardConfig struct {
	// RatePerSecond is the token refill rate for the dependency; Burst is
	// the bucket capacity.
	RatePerSecond float64
	Burst         int
	// MaxAttempts caps retries of one logical call, first try included.
	MaxAttempts int
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker; Cooldown is
	// how long it stays open before half-opening.
	FailureThreshold uint32
	Cooldown         time.Duration
}

func (c *GuardConfig) withDefaults() {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
}

// Guard wraps calls to one external dependency with a token bucket, retry
// with exponential backoff and jitter, a circuit breaker, and a per-attempt
// timeout. Every outbound call in the system passes through a guard.
type Guard struct {
	name        string
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	timeout     time.Duration
	logger      *zap.Logger
}

func NewGuard(name string, cfg GuardConfig, logger *zap.Logger) *Guard {
	cfg.withDefaults()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("dependency", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Guard{
		name:        name,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker:     breaker,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Do executes op under the guard. While the breaker is open, calls fail fast
// without consuming rate tokens. Context cancellation during a rate wait or
// an attempt releases the slot immediately.
func (g *Guard) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return nil, g.retry(ctx, op)
	})
	return err
}

func (g *Guard) retry(ctx context.Context, op func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.RandomizationFactor = 0.25
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		g.logger.Debug("guarded call failed",
			zap.String("dependency", g.name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(g.maxAttempts-1)), ctx))
}

// Call runs op under the guard and returns its value.
func Call[T any](ctx context.Context, g *Guard, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsOpen reports whether err came from an open or saturated breaker, which
// callers translate into a retry-after response.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
