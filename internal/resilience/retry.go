package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig tunes [Retry]. Zero values fall back to the defaults.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	// Default: 3.
	Attempts int

	// BaseDelay is the wait before the second attempt; it doubles each
	// retry. Default: 50ms.
	BaseDelay time.Duration

	// MaxDelay caps the grown delay. Default: 1s.
	MaxDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 50 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Second
	}
	return c
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted, sleeping an exponentially growing, jittered delay
// between tries. retryable selects which errors warrant another attempt;
// nil retries every error.
//
// The typical caller is the aggregation pipeline retrying its whole
// load-record-save cycle after a revision conflict.
func Retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()

	var err error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(jitteredDelay(cfg, attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}

// jitteredDelay returns the backoff for the given attempt (1-based for the
// first retry): base·2^(attempt-1), capped, with ±50% jitter so colliding
// writers spread out.
func jitteredDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << (attempt - 1)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(delay)))
}
