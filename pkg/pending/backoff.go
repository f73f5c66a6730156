package pending

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines how the wait between resume attempts grows.
type BackoffStrategy int

const (
	// BackoffExponential waits base * 2^(attempt-1).
	BackoffExponential BackoffStrategy = iota

	// BackoffLinear waits base * attempt.
	BackoffLinear

	// BackoffConstant always waits base.
	BackoffConstant
)

// ParseBackoffStrategy maps "exponential", "linear" or "constant" to a
// strategy, defaulting to exponential.
func ParseBackoffStrategy(s string) BackoffStrategy {
	switch s {
	case "linear":
		return BackoffLinear
	case "constant":
		return BackoffConstant
	default:
		return BackoffExponential
	}
}

// BackoffConfig configures the resume schedule.
type BackoffConfig struct {
	Strategy BackoffStrategy

	// BaseInterval is the first wait. Default is 5 minutes, long enough
	// for a queued analysis to make progress.
	BaseInterval time.Duration

	// MaxInterval caps the wait. Default is 6 hours.
	MaxInterval time.Duration

	// Jitter is the fraction of the interval randomized in either
	// direction, between 0 and 1. Default is 0.1.
	Jitter float64
}

// DefaultBackoffConfig returns the default resume schedule.
func DefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		Strategy:     BackoffExponential,
		BaseInterval: 5 * time.Minute,
		MaxInterval:  6 * time.Hour,
		Jitter:       0.1,
	}
}

// NextAttempt returns when the job should next be tried after the given
// number of attempts.
func (c *BackoffConfig) NextAttempt(from time.Time, attempts int) time.Time {
	return from.Add(c.Interval(attempts))
}

// Interval returns the wait after the given number of attempts.
//
// With the defaults:
//
//	attempt 1: 5m
//	attempt 2: 10m
//	attempt 3: 20m
//	attempt 4: 40m
//	attempt 5: 80m
//	attempt 7: 5h20m
//	attempt 8+: 6h (capped)
func (c *BackoffConfig) Interval(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	var interval time.Duration
	switch c.Strategy {
	case BackoffLinear:
		interval = c.BaseInterval * time.Duration(attempts)
	case BackoffConstant:
		interval = c.BaseInterval
	default:
		multiplier := math.Pow(2, float64(attempts-1))
		interval = time.Duration(float64(c.BaseInterval) * multiplier)
	}

	if c.MaxInterval > 0 && (interval > c.MaxInterval || interval < 0) {
		interval = c.MaxInterval
	}
	if c.Jitter > 0 {
		interval = c.applyJitter(interval)
	}
	return interval
}

func (c *BackoffConfig) applyJitter(interval time.Duration) time.Duration {
	jitter := min(c.Jitter, 1)
	spread := float64(interval) * jitter
	return time.Duration(float64(interval) + (rand.Float64()*2-1)*spread)
}

// Schedule returns the unjittered waits for the first n attempts.
func (c *BackoffConfig) Schedule(n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	plain := *c
	plain.Jitter = 0
	out := make([]time.Duration, n)
	for i := range n {
		out[i] = plain.Interval(i + 1)
	}
	return out
}
