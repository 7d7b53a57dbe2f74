package indexer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/handlers"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/goran-ethernal/ChainProjector/pkg/projection"
)

// retryableError reports whether err may succeed on another attempt.
// Violations of decoding or store invariants never do.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if projection.IsFatal(err) || errors.Is(err, handlers.ErrNoHandler) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// calculateBackoff computes the wait before the given attempt, with ±25% jitter.
func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	jitterRange := backoff * 0.25                               //nolint:mnd
	backoff += (rand.Float64() * 2 * jitterRange) - jitterRange //nolint:gosec
	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retryable error, or
// cfg.MaxAttempts is reached. A nil cfg runs fn once. Backoff waits stop on ctx.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, log *logger.Logger,
	operation string, fn func() error) error {
	if cfg == nil {
		return fn()
	}

	var lastErr error
	startTime := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if wait := calculateBackoff(attempt, cfg); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w",
						attempt, cfg.MaxAttempts, ctx.Err())
				}
			}
			metrics.StoreRetryInc(operation)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryableError(err) {
			return err
		}

		if db.IsTransient(err) {
			log.Warnf("%s failed on attempt %d/%d, retrying: %v", operation, attempt, cfg.MaxAttempts, err)
		} else {
			log.Errorf("%s failed on attempt %d/%d, retrying: %v", operation, attempt, cfg.MaxAttempts, err)
		}
	}

	return fmt.Errorf("all %d attempts of %s failed after %v (last error: %w)",
		cfg.MaxAttempts, operation, time.Since(startTime), lastErr)
}
