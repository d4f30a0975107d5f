// Package backoff provides exponential backoff utilities with jitter for
// the retry policy used by the sandboxed tool executor and the DAG
// scheduler's per-chunk retries (spec §4.3).
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// BaseDelay is the initial backoff duration.
	BaseDelay time.Duration
	// MaxDelay is the maximum backoff duration.
	MaxDelay time.Duration
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied symmetrically
	// around the base delay.
	Jitter float64
	// MaxRetries caps the number of attempts Execute will make.
	MaxRetries int
}

// ComputeBackoff calculates the backoff duration for a given attempt number
// (1-indexed) using the package's random source.
func ComputeBackoff(policy Policy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeBackoffWithRand calculates the backoff duration using a provided
// random value in [0.0, 1.0), so tests can assert exact bounds
// deterministically.
//
// base = BaseDelay * Factor^(attempt-1), clamped to MaxDelay. The jitter
// term is symmetric: total = base + (2*randomValue-1)*Jitter*base, which
// places delay(attempt) in [(1-Jitter)*base, (1+Jitter)*base] before the
// final clamp to [0, MaxDelay] — matching the quantified invariant
// delay(attempt) in [max(0,(1-j)*min(b*2^a,M)), (1+j)*min(b*2^a,M)].
func ComputeBackoffWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)

	factor := policy.Factor
	if factor <= 0 {
		factor = 2
	}
	base := float64(policy.BaseDelay) * math.Pow(factor, exp)
	if policy.MaxDelay > 0 && base > float64(policy.MaxDelay) {
		base = float64(policy.MaxDelay)
	}

	jitterSpread := (2*randomValue - 1) * policy.Jitter * base
	total := base + jitterSpread

	if total < 0 {
		total = 0
	}
	if policy.MaxDelay > 0 && total > float64(policy.MaxDelay) {
		total = float64(policy.MaxDelay)
	}
	return time.Duration(math.Round(total))
}

// DefaultPolicy returns the spec-mandated defaults: base=1s, max=60s,
// factor=2, jitter=0.25, maxRetries=3.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
		Factor:     2,
		Jitter:     0.25,
		MaxRetries: 3,
	}
}

// AggressivePolicy returns a policy for quick retries with shorter delays.
func AggressivePolicy() Policy {
	return Policy{
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Factor:     1.5,
		Jitter:     0.1,
		MaxRetries: 5,
	}
}

// ConservativePolicy returns a policy for slow retries with longer delays.
func ConservativePolicy() Policy {
	return Policy{
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Factor:     2.5,
		Jitter:     0.2,
		MaxRetries: 2,
	}
}
