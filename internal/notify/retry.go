package notify

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy controls redelivery of a failed notification.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// ApplyDefaults fills zero values.
func (p *RetryPolicy) ApplyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
}

// Schedule returns the waits between attempts: MaxAttempts-1 delays of
// min(InitialBackoff * Multiplier^(n-1), MaxBackoff), without jitter.
func (p RetryPolicy) Schedule() []time.Duration {
	b := p.newBackOff()
	delays := make([]time.Duration, 0, max(p.MaxAttempts-1, 0))
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxBackoff,
	}
	b.Reset()
	return b
}
