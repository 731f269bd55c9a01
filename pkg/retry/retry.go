// Package retry provides bounded retry logic with fixed or exponential delays
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Defaults applied by Do to zero Config fields
const (
	defaultInitialDelay = 100 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
	defaultMultiplier   = 2.0
	maxMultiplier       = 1000
)

// ErrExhausted is wrapped into the error returned by Do when every attempt failed.
var ErrExhausted = errors.New("retry budget exhausted")

// NonRetryableError stops a retry loop at the attempt that returned it
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err so that Do returns it without further attempts
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries a NonRetryable mark
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config describes one retry budget
type Config struct {
	MaxAttempts  int           // total attempts including the first; <= 0 means one
	InitialDelay time.Duration // wait after the first failure
	MaxDelay     time.Duration // cap on any single wait
	Multiplier   float64       // growth per attempt; 1.0 keeps the delay fixed
	AddJitter    bool          // add up to 25% to each wait

	// OnRetry is called after a failed attempt that will be retried,
	// before the delay starts. Attempt numbers start at 1.
	OnRetry func(attempt int, err error)
}

// DefaultConfig is three attempts with exponential delay from 100ms to 5s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
		Multiplier:   defaultMultiplier,
		AddJitter:    true,
	}
}

// Fixed returns a config that makes one initial attempt plus maxRetries
// retries, waiting exactly delay between attempts.
func Fixed(maxRetries int, delay time.Duration) Config {
	return Config{
		MaxAttempts:  max(maxRetries, 0) + 1,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
	}
}

// normalize rejects negative settings and fills zero fields with defaults
func (c Config) normalize() (Config, error) {
	switch {
	case c.InitialDelay < 0:
		return c, errors.New("retry: InitialDelay cannot be negative")
	case c.MaxDelay < 0:
		return c, errors.New("retry: MaxDelay cannot be negative")
	case c.Multiplier < 0:
		return c, errors.New("retry: Multiplier cannot be negative")
	}

	c.MaxAttempts = max(c.MaxAttempts, 1)
	if c.InitialDelay == 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = defaultMultiplier
	}
	c.Multiplier = min(c.Multiplier, maxMultiplier)

	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// next grows delay by the multiplier, capped at MaxDelay
func (c Config) next(delay time.Duration) time.Duration {
	grown := float64(delay) * c.Multiplier
	if grown >= float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(grown)
}

// wait is delay plus jitter when enabled
func (c Config) wait(delay time.Duration) time.Duration {
	if !c.AddJitter || delay < 4 {
		return delay
	}
	return delay + rand.N(delay/4)
}

// Do executes fn until it succeeds, the attempts run out or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that produce a value. The value of the
// successful attempt is returned; on failure it is the zero value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T

	cfg, err := cfg.normalize()
	if err != nil {
		return zero, err
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled before attempt %d: %w", attempt, err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctxErr)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(cfg.wait(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
		delay = cfg.next(delay)
	}

	return zero, fmt.Errorf("retry failed after %d attempts: %w: %w", cfg.MaxAttempts, ErrExhausted, lastErr)
}
