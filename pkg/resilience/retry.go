package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/juju/clock"
)

// Backoff is a capped exponential delay policy: the n-th retry (counting
// from zero) waits min(Start * Factor^n, Cap).
type Backoff struct {
	Start  time.Duration
	Factor float64
	Cap    time.Duration
}

// DefaultBackoff waits 0.1s, 0.2s, 0.4s ... up to 10s.
func DefaultBackoff() Backoff {
	return Backoff{
		Start:  100 * time.Millisecond,
		Factor: 2,
		Cap:    10 * time.Second,
	}
}

// Delay returns the wait before retry n.
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Start) * math.Pow(b.Factor, float64(n))
	if d > float64(b.Cap) || math.IsInf(d, 0) || math.IsNaN(d) {
		return b.Cap
	}
	return time.Duration(d)
}

type RetryConfig struct {
	Backoff Backoff
	// MaxAttempts bounds the number of calls to fn. Zero or negative means
	// retry until fn succeeds, fails with a non-retryable error, or ctx is
	// cancelled.
	MaxAttempts int
	// JitterFraction spreads each delay by +/- the given fraction.
	JitterFraction float64
	// Retryable selects the errors that are retried. Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
	Clock   clock.Clock
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	defaults := DefaultBackoff()
	if cfg.Backoff.Start <= 0 {
		cfg.Backoff.Start = defaults.Start
	}
	if cfg.Backoff.Cap <= 0 {
		cfg.Backoff.Cap = defaults.Cap
	}
	if cfg.Backoff.Factor <= 0 {
		cfg.Backoff.Factor = defaults.Factor
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return cfg
}

// Retry calls fn until it succeeds. Errors rejected by cfg.Retryable are
// returned immediately and unwrapped. The caller is blocked for the whole
// retry sequence.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay := computeDelay(attempt, cfg)
		logger.Warn("operation failed, retrying", "attempt", attempt, "error", lastErr, "next_delay", delay)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, lastErr)
		}
		select {
		case <-cfg.Clock.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, lastErr)
}

// computeDelay maps a 1-based attempt to the backoff step n = attempt-1.
func computeDelay(attempt int, cfg RetryConfig) time.Duration {
	backoff := cfg.Backoff.Delay(attempt - 1)
	if cfg.JitterFraction == 0 {
		return backoff
	}
	jittered := float64(backoff) * (1 + cfg.JitterFraction*(2*rand.Float64()-1))
	if jittered > float64(cfg.Backoff.Cap) {
		jittered = float64(cfg.Backoff.Cap)
	}
	if jittered < 0 {
		jittered = float64(cfg.Backoff.Start)
	}
	return time.Duration(jittered)
}
