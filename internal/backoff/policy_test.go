package backoff

import (
	"testing"
	"time"
)

func TestComputeBackoffWithRand(t *testing.T) {
	tests := []struct {
		name        string
		policy      Policy
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{
			name:        "first attempt with no jitter",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 2},
			attempt:     1,
			randomValue: 0.5,
			expected:    100 * time.Millisecond,
		},
		{
			name:        "second attempt doubles",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 2},
			attempt:     2,
			randomValue: 0.5,
			expected:    200 * time.Millisecond,
		},
		{
			name:        "third attempt quadruples",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 2},
			attempt:     3,
			randomValue: 0.5,
			expected:    400 * time.Millisecond,
		},
		{
			name:        "clamped to max",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Factor: 2},
			attempt:     10,
			randomValue: 0.5,
			expected:    500 * time.Millisecond,
		},
		{
			name:        "10% jitter at max random gives upper bound",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 2, Jitter: 0.1},
			attempt:     1,
			randomValue: 1.0,
			// base=100, spread=(2*1-1)*0.1*100=10, total=110
			expected: 110 * time.Millisecond,
		},
		{
			name:        "10% jitter at zero random gives lower bound",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 2, Jitter: 0.1},
			attempt:     1,
			randomValue: 0.0,
			// base=100, spread=(2*0-1)*0.1*100=-10, total=90
			expected: 90 * time.Millisecond,
		},
		{
			name:        "mid random gives base with no jitter spread",
			policy:      Policy{BaseDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 1, Jitter: 0.5},
			attempt:     1,
			randomValue: 0.5,
			// spread=(2*0.5-1)*0.5*200=0
			expected: 200 * time.Millisecond,
		},
		{
			name:        "attempt 0 treated as 1",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 2},
			attempt:     0,
			randomValue: 0.5,
			expected:    100 * time.Millisecond,
		},
		{
			name:        "negative attempt treated as 1",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 2},
			attempt:     -5,
			randomValue: 0.5,
			expected:    100 * time.Millisecond,
		},
		{
			name:        "factor 1.5",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 1.5},
			attempt:     3,
			randomValue: 0.5,
			expected:    225 * time.Millisecond,
		},
		{
			name:        "jitter causes max clamping",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 105 * time.Millisecond, Factor: 1, Jitter: 0.5},
			attempt:     1,
			randomValue: 1.0,
			// spread=(2*1-1)*0.5*100=50, total=150, clamped to 105
			expected: 105 * time.Millisecond,
		},
		{
			name:        "jitter floor clamps at zero",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 1, Jitter: 1.0},
			attempt:     1,
			randomValue: 0.0,
			// spread=(2*0-1)*1.0*100=-100, total=0
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBackoffWithRand(tt.policy, tt.attempt, tt.randomValue)
			if got != tt.expected {
				t.Errorf("ComputeBackoffWithRand() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestComputeBackoff_JitterRange(t *testing.T) {
	// Quantified invariant (SPEC_FULL.md §8): delay(attempt) in
	// [max(0,(1-j)*min(b*2^a,M)), (1+j)*min(b*2^a,M)].
	policy := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 2, Jitter: 0.2}

	minExpected := 80 * time.Millisecond
	maxExpected := 120 * time.Millisecond

	for i := 0; i < 200; i++ {
		got := ComputeBackoff(policy, 1)
		if got < minExpected || got > maxExpected {
			t.Errorf("ComputeBackoff() = %v, want in range [%v, %v]", got, minExpected, maxExpected)
		}
	}
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	if policy.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", policy.BaseDelay)
	}
	if policy.MaxDelay != 60*time.Second {
		t.Errorf("MaxDelay = %v, want 60s", policy.MaxDelay)
	}
	if policy.Factor != 2 {
		t.Errorf("Factor = %v, want 2", policy.Factor)
	}
	if policy.Jitter != 0.25 {
		t.Errorf("Jitter = %v, want 0.25", policy.Jitter)
	}
	if policy.MaxRetries != 3 {
		t.Errorf("MaxRetries = %v, want 3", policy.MaxRetries)
	}
}

func TestAggressivePolicy(t *testing.T) {
	policy := AggressivePolicy()
	if policy.BaseDelay != 50*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 50ms", policy.BaseDelay)
	}
	if policy.MaxDelay != 5*time.Second {
		t.Errorf("MaxDelay = %v, want 5s", policy.MaxDelay)
	}
}

func TestConservativePolicy(t *testing.T) {
	policy := ConservativePolicy()
	if policy.BaseDelay != 2*time.Second {
		t.Errorf("BaseDelay = %v, want 2s", policy.BaseDelay)
	}
	if policy.MaxDelay != 60*time.Second {
		t.Errorf("MaxDelay = %v, want 60s", policy.MaxDelay)
	}
}

func TestPolicyComparison(t *testing.T) {
	aggressive := AggressivePolicy()
	defaultP := DefaultPolicy()
	conservative := ConservativePolicy()

	aggBackoff := ComputeBackoffWithRand(aggressive, 1, 0.5)
	defBackoff := ComputeBackoffWithRand(defaultP, 1, 0.5)
	consBackoff := ComputeBackoffWithRand(conservative, 1, 0.5)

	if aggBackoff >= defBackoff {
		t.Errorf("aggressive backoff %v should be < default backoff %v", aggBackoff, defBackoff)
	}
	if defBackoff >= consBackoff {
		t.Errorf("default backoff %v should be < conservative backoff %v", defBackoff, consBackoff)
	}
}
