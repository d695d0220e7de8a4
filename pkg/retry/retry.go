package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config holds retry configuration
type Config struct {
	MaxRetries     int           // Attempts after the first one
	InitialBackoff time.Duration // Wait before the first retry
	MaxBackoff     time.Duration // Upper bound of a single wait
	Multiplier     float64       // Growth factor between waits
}

// DefaultConfig returns the retry settings used for startup dependencies
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Value calls fn until it succeeds, returns a permanent error, the retries
// are used up or ctx is done. notify, if set, is told about each failed
// attempt that will be retried.
func Value[T any](ctx context.Context, cfg Config, notify func(err error, wait time.Duration), fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("retry cancelled: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = 0

	attempts := 0
	op := func() (T, error) {
		attempts++
		return fn()
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.MaxRetries + 1)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}

	v, err := backoff.Retry(ctx, op, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}
		return zero, fmt.Errorf("failed after %d attempts: %w", attempts, err)
	}
	return v, nil
}

// Do is Value for operations without a result
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := Value(ctx, cfg, nil, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
