package queue

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// BackoffType selects the retry delay curve.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffLinear      BackoffType = "linear"
	BackoffFixed       BackoffType = "fixed"
)

// RetryPolicy governs redelivery of messages whose handler reported a
// retryable failure.
type RetryPolicy struct {
	MaxAttempts    int         `json:"maxAttempts"`
	Backoff        BackoffType `json:"backoff"`
	InitialDelayMs int64       `json:"initialDelayMs"`
	MaxDelayMs     int64       `json:"maxDelayMs"`
	Multiplier     float64     `json:"multiplier"`
	Jitter         bool        `json:"jitter"`
}

// DefaultRetryPolicy is applied to queues that do not configure one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		Backoff:        BackoffExponential,
		InitialDelayMs: 1_000,
		MaxDelayMs:     60_000,
		Multiplier:     2,
		Jitter:         true,
	}
}

// Validate rejects malformed policies at configuration time.
func (p RetryPolicy) Validate() error {
	switch p.Backoff {
	case BackoffExponential, BackoffLinear, BackoffFixed:
	default:
		return fmt.Errorf("queue: invalid backoff type %q", p.Backoff)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("queue: retry maxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelayMs < 0 || p.MaxDelayMs < 0 {
		return fmt.Errorf("queue: retry delays must be non-negative")
	}
	if p.Backoff == BackoffExponential && p.Multiplier <= 0 {
		return fmt.Errorf("queue: exponential backoff needs multiplier > 0, got %g", p.Multiplier)
	}
	return nil
}

// jitterFloat is swappable for deterministic tests.
var jitterFloat = rand.Float64

// Delay computes the backoff before retry attempt n (1-based): exponential
// initial*multiplier^(n-1), linear initial*n, or fixed initial; capped at
// MaxDelayMs, then scaled by a uniform factor in [0.5, 1.0] when Jitter is
// set.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.InitialDelayMs)
	switch p.Backoff {
	case BackoffExponential:
		base *= math.Pow(p.Multiplier, float64(attempt-1))
	case BackoffLinear:
		base *= float64(attempt)
	case BackoffFixed:
		// initial delay as-is
	}
	if p.MaxDelayMs > 0 && base > float64(p.MaxDelayMs) {
		base = float64(p.MaxDelayMs)
	}
	if p.Jitter {
		base *= 0.5 + 0.5*jitterFloat()
	}
	return time.Duration(base) * time.Millisecond
}
