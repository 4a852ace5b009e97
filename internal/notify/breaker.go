package notify

import (
	"sync"
	"time"
)

// BreakerState is the state of a Breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// Threshold consecutive failures open the breaker.
	Threshold int
	// Window bounds the streak: a failure more than Window after the first
	// failure of the streak starts a new streak.
	Window time.Duration
	// Cooldown is how long the breaker stays open before a trial call.
	Cooldown time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// Breaker is a consecutive-failure circuit breaker shared by all workers.
type Breaker struct {
	mu sync.Mutex

	cfg      BreakerConfig
	now      func() time.Time
	onChange func(from, to BreakerState)

	state        BreakerState
	failures     int
	streakStart  time.Time
	openedAt     time.Time
	trialPending bool
}

// NewBreaker creates a closed breaker. now may be nil.
func NewBreaker(cfg BreakerConfig, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{cfg: cfg.withDefaults(), now: now, state: BreakerClosed}
}

// OnStateChange registers fn to run, under the breaker lock, on every
// transition. fn must not call back into the breaker.
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow reports whether a call may proceed. In half-open state exactly one
// caller is admitted until it reports back.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(BreakerHalfOpen)
		b.trialPending = true
		return nil
	case BreakerHalfOpen:
		if b.trialPending {
			return ErrCircuitOpen
		}
		b.trialPending = true
		return nil
	}
	return nil
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialPending = false
	if b.state == BreakerHalfOpen {
		b.transition(BreakerClosed)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case BreakerHalfOpen:
		b.trialPending = false
		b.open(now)
		return
	case BreakerOpen:
		// A call admitted before the breaker opened; the cooldown stands.
		return
	}

	if b.failures == 0 || now.Sub(b.streakStart) > b.cfg.Window {
		b.failures = 0
		b.streakStart = now
	}
	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.open(now)
	}
}

// Release gives back an admitted call that never reached the sink, so a
// half-open breaker can admit another trial.
func (b *Breaker) Release() {
	b.mu.Lock()
	b.trialPending = false
	b.mu.Unlock()
}

// State returns the current state. An open breaker whose cooldown has
// elapsed still reports open until the next Allow.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open(now time.Time) {
	b.openedAt = now
	b.failures = 0
	b.transition(BreakerOpen)
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
