package connection

import (
	"fmt"
	"time"
)

// Backoff controls reconnect pacing.
type Backoff struct {
	// Min is the delay after the first failure.
	Min time.Duration

	// Max caps the delay.
	Max time.Duration

	// StabilityThreshold is how long a connection must stay up before the
	// failure count resets. Zero resets on every successful connect.
	StabilityThreshold time.Duration

	// MaxRetries limits consecutive failed attempts. 0 means unlimited.
	MaxRetries int
}

// DefaultBackoff returns 1s doubling to 60s, reset after 30s of stability.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:                time.Second,
		Max:                60 * time.Second,
		StabilityThreshold: 30 * time.Second,
	}
}

// Validate checks the policy.
func (b Backoff) Validate() error {
	if b.Min <= 0 {
		return fmt.Errorf("%w: min must be positive, got %v", ErrInvalidBackoff, b.Min)
	}
	if b.Max < b.Min {
		return fmt.Errorf("%w: max %v is below min %v", ErrInvalidBackoff, b.Max, b.Min)
	}
	if b.StabilityThreshold < 0 {
		return fmt.Errorf("%w: stability threshold must not be negative", ErrInvalidBackoff)
	}
	if b.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidBackoff)
	}
	return nil
}

// Delay returns the wait after the k-th consecutive failure (k >= 1):
// min(Min * 2^(k-1), Max).
func (b Backoff) Delay(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	d := b.Min
	for i := 1; i < k; i++ {
		if d > b.Max-d {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// exhausted reports whether failures consecutive failures use up the retry
// budget. The first attempt is not a retry.
func (b Backoff) exhausted(failures int) bool {
	return b.MaxRetries > 0 && failures > b.MaxRetries
}
