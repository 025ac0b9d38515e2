// Package retry provides bounded exponential-backoff retry for operations
// whose failures are classified as retryable, backed by
// github.com/cenkalti/backoff/v4.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config bounds a retry sequence.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxElapsed   time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, mapped to backoff.RandomizationFactor
}

// ExchangeSubmitConfig matches the pipeline's exchange-submission retry
// policy: up to 3 attempts, exponential backoff, capped at 1s total elapsed.
func ExchangeSubmitConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxElapsed:   1 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Do executes fn, retrying on error up to cfg.MaxAttempts times with
// exponential backoff, until ctx is cancelled or cfg.MaxElapsed is exceeded.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = cfg.InitialDelay
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}
	if cfg.Jitter > 0 {
		bo.RandomizationFactor = cfg.Jitter
	} else {
		bo.RandomizationFactor = 0
	}
	bo.MaxElapsedTime = cfg.MaxElapsed

	withMax := backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1))
	withCtx := backoff.WithContext(withMax, ctx)

	return backoff.Retry(fn, withCtx)
}
