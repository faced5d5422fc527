// Package retry runs backend requests with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"` // 0 means a single attempt
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      float64       `yaml:"jitter"` // fraction of the wait, 0-1
}

// DefaultConfig returns the backoff used for storage requests.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. The last error is returned unwrapped
// from its retry marker.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}

	var r retryableError
	if errors.As(lastErr, &r) {
		return zero, r.err
	}
	return zero, lastErr
}

func backoff(cfg Config, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 2
	}
	wait := float64(cfg.InitialWait) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}
	if cfg.Jitter > 0 {
		wait += wait * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}
