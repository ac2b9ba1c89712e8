package connector

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides how reconnection attempts are spaced and when to give
// up. Giving up is what tips the connector into fallback mode.
type Retryer interface {
	// NextDelay returns the delay before retry number attempt (0-based)
	// and whether to keep retrying.
	NextDelay(attempt int) (time.Duration, bool)

	// Reset clears retry state after a successful connection.
	Reset()
}

// ExponentialBackoff spaces attempts exponentially with jitter.
type ExponentialBackoff struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64

	// MaxAttempts bounds retries before the connector declares fallback
	// mode. Zero means retry forever, which disables fallback.
	MaxAttempts int

	// JitterFactor spreads the delay by up to +/- this fraction to avoid
	// synchronized reconnect storms. Zero disables jitter.
	JitterFactor float64
}

// NewExponentialBackoff returns the default policy: five attempts from
// 500ms up to 15s before declaring fallback.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoff) NextDelay(attempt int) (time.Duration, bool) {
	if r.MaxAttempts > 0 && attempt >= r.MaxAttempts {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security-sensitive
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

func (r *ExponentialBackoff) Reset() {}

// FixedDelay retries at a constant cadence.
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewFixedDelay returns a fixed-cadence policy.
func NewFixedDelay(delay time.Duration, maxAttempts int) *FixedDelay {
	return &FixedDelay{Delay: delay, MaxAttempts: maxAttempts}
}

func (r *FixedDelay) NextDelay(attempt int) (time.Duration, bool) {
	if r.MaxAttempts > 0 && attempt >= r.MaxAttempts {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelay) Reset() {}
