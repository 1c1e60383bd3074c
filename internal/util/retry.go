package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retry with exponential backoff
type RetryConfig struct {
	// MaxRetries is the number of extra attempts after the first (-1 = unlimited)
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Multiplier is the backoff growth factor (default 2.0)
	Multiplier float64
	// Jitter is the +/- fraction applied to each delay (0.0 - 1.0)
	Jitter float64
	// RetryIf reports whether err warrants another attempt; nil retries everything
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the backoff used for RPC dialing.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// RetryResult describes how a retried call went.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

// ErrMaxRetriesExceeded is joined with the last error when attempts run out
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// ErrContextCanceled is joined with ctx.Err() when the wait between attempts is cut short
var ErrContextCanceled = errors.New("context canceled during retry")

// RetryWithValue calls fn until it succeeds, the config gives up, or ctx ends.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var zero T
	res := &RetryResult{}
	start := time.Now()

	for {
		res.Attempts++

		val, err := fn()
		if err == nil {
			res.LastError = nil
			res.Duration = time.Since(start)
			return val, res
		}
		res.LastError = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			res.Duration = time.Since(start)
			return zero, res
		}

		if config.MaxRetries >= 0 && res.Attempts > config.MaxRetries {
			res.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			res.Duration = time.Since(start)
			return zero, res
		}

		select {
		case <-ctx.Done():
			res.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			res.Duration = time.Since(start)
			return zero, res
		case <-time.After(calculateDelay(config, res.Attempts)):
		}
	}
}

// calculateDelay returns baseDelay * multiplier^(attempt-1), jittered and clamped.
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))

	if config.Jitter > 0 {
		spread := delay * config.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}

	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}
