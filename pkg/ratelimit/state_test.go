package ratelimit

import (
	"testing"
	"time"
)

func TestRateLimitState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *RateLimitState
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &RateLimitState{LastUpdate: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &RateLimitState{LastUpdate: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "just under max age",
			state:    &RateLimitState{LastUpdate: time.Now().Add(-4 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.state.IsStale(tt.maxAge); result != tt.expected {
				t.Errorf("IsStale() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestRateLimitState_NeedsCriticalBlock(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		resetIn   time.Duration
		expected  bool
	}{
		{name: "plenty remaining", remaining: 50, resetIn: time.Minute, expected: false},
		{name: "at critical threshold", remaining: RemainingThresholdCritical, resetIn: time.Minute, expected: false},
		{name: "exhausted", remaining: 0, resetIn: time.Minute, expected: true},
		{name: "exhausted but window already reset", remaining: 0, resetIn: -time.Second, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{Remaining: tt.remaining, ResetAt: time.Now().Add(tt.resetIn)}
			if result := state.NeedsCriticalBlock(); result != tt.expected {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestRateLimitState_NeedsThrottling(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{name: "healthy", remaining: 100, expected: false},
		{name: "at warning threshold", remaining: RemainingThresholdWarning, expected: false},
		{name: "below warning threshold", remaining: 5, expected: true},
		{name: "exhausted blocks instead", remaining: 0, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{Remaining: tt.remaining, ResetAt: time.Now().Add(time.Minute)}
			if result := state.NeedsThrottling(); result != tt.expected {
				t.Errorf("NeedsThrottling() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestRateLimitState_TimeUntilReset(t *testing.T) {
	past := &RateLimitState{ResetAt: time.Now().Add(-time.Minute)}
	if got := past.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() for past reset = %v, want 0", got)
	}

	future := &RateLimitState{ResetAt: time.Now().Add(30 * time.Second)}
	if got := future.TimeUntilReset(); got < 29*time.Second || got > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want ~30s", got)
	}
}

func TestRateLimitState_UpdateHealth(t *testing.T) {
	state := &RateLimitState{Remaining: RemainingThresholdHealthy}
	state.UpdateHealth()
	if !state.IsHealthy {
		t.Error("state at healthy threshold should be healthy")
	}

	state.Remaining = RemainingThresholdHealthy - 1
	state.UpdateHealth()
	if state.IsHealthy {
		t.Error("state below healthy threshold should not be healthy")
	}
}
