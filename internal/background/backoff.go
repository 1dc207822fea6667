package background

import (
	"math"
	"time"
)

// Backoff yields an exponential delay sequence clamped between its initial
// value and a ceiling. The first Next returns the initial delay; each call
// advances by the given factor.
type Backoff struct {
	delay   time.Duration
	ceiling time.Duration
}

// NewBackoff creates a backoff starting at initial and clamped at ceiling.
func NewBackoff(initial, ceiling time.Duration) *Backoff {
	if ceiling < initial {
		ceiling = initial
	}
	return &Backoff{delay: initial, ceiling: ceiling}
}

// Next returns the current delay and multiplies it by factor for the next
// call, never exceeding the ceiling.
func (b *Backoff) Next(factor float64) time.Duration {
	current := b.delay
	next := time.Duration(float64(b.delay) * factor)
	if next > b.ceiling || next < b.delay {
		next = b.ceiling
	}
	b.delay = next
	return current
}

// DueCalculator computes when a task becomes eligible for its next attempt:
// now + timeout + a retry-weighted delay that spreads simultaneous retries
// apart.
type DueCalculator struct {
	minDelay time.Duration
	now      func() time.Time
}

// NewDueCalculator creates a calculator whose retry delay grows from the
// given floor.
func NewDueCalculator(minDelay time.Duration) *DueCalculator {
	return &DueCalculator{
		minDelay: minDelay,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RetryDelay returns (1 + minDelay seconds)^retryCount seconds, clamped so
// large counts cannot overflow a Duration.
func (c *DueCalculator) RetryDelay(retryCount int) time.Duration {
	seconds := math.Pow(1+c.minDelay.Seconds(), float64(retryCount))
	if seconds > float64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds * float64(time.Second))
}

// Due returns the next eligibility instant for an attempt. Reschedules pass
// a zero timeout so the task becomes re-due almost immediately.
func (c *DueCalculator) Due(timeout time.Duration, retryCount int) time.Time {
	return c.now().Add(timeout + c.RetryDelay(retryCount))
}
