package llm

import (
	"context"
	"errors"
	"log"
	"time"
)

// RetryConfig controls Retrying.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, the first included.
	// Zero or negative means 1.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt; later waits double
	// up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetry suits interactive requests: a quick second try, then give up.
var DefaultRetry = RetryConfig{
	MaxAttempts:  2,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// Retrying retries a Generator with exponential backoff. Context errors and
// empty responses are not retried.
type Retrying struct {
	next  Generator
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next.
func NewRetrying(next Generator, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultRetry.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetry.MaxDelay
	}
	return &Retrying{next: next, cfg: cfg, sleep: sleepCtx}
}

// Generate calls the wrapped generator until it succeeds, a non-retryable
// error occurs, or attempts run out. The last error is returned.
func (r *Retrying) Generate(ctx context.Context, req Request) (string, error) {
	delay := r.cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", errors.Join(lastErr, err)
		}

		text, err := r.next.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !retryable(err) || attempt == r.cfg.MaxAttempts {
			break
		}

		log.Printf("[LLM] Attempt %d/%d failed, retrying in %s: %v", attempt, r.cfg.MaxAttempts, delay, err)
		if err := r.sleep(ctx, delay); err != nil {
			return "", errors.Join(lastErr, err)
		}

		delay *= 2
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}

	return "", lastErr
}

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrEmptyResponse)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
