package notify

import (
	"testing"
	"time"
)

func TestRetryPolicy_Schedule(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
		want   []time.Duration
	}{
		{
			name:   "doubling under the cap",
			policy: RetryPolicy{MaxAttempts: 4, InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2},
			want:   []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
		{
			name:   "capped",
			policy: RetryPolicy{MaxAttempts: 6, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 2},
			want:   []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second},
		},
		{
			name:   "single attempt has no waits",
			policy: RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Second, MaxBackoff: time.Second, Multiplier: 2},
			want:   []time.Duration{},
		},
		{
			name:   "multiplier of three",
			policy: RetryPolicy{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 3},
			want:   []time.Duration{100 * time.Millisecond, 300 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Schedule()
			if len(got) != len(tt.want) {
				t.Fatalf("Schedule() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("delay[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRetryPolicy_ApplyDefaults(t *testing.T) {
	var p RetryPolicy
	p.ApplyDefaults()

	if p.MaxAttempts != 5 || p.InitialBackoff != time.Second || p.MaxBackoff != 30*time.Second || p.Multiplier != 2 {
		t.Errorf("ApplyDefaults() = %+v", p)
	}
}
