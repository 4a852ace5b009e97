package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// Memory is an in-process sliding-window limiter.
type Memory struct {
	cfg    Config
	now    func() time.Time
	shards [shardCount]*shard
}

type shard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an in-process limiter. Zero fields in cfg take defaults.
func NewMemory(cfg Config, opts ...MemoryOption) (*Memory, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Memory{cfg: cfg, now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{windows: make(map[string][]time.Time)}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Memory) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

// Allow reports whether key may send another message now and records it if so.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()
	s := m.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	window := prune(s.windows[key], now.Add(-m.cfg.Window))
	if len(window) >= m.cfg.Limit {
		s.windows[key] = window
		return false, nil
	}
	s.windows[key] = append(window, now)
	return true, nil
}

// Count returns the number of messages inside the current window for key.
func (m *Memory) Count(_ context.Context, key string) (int, error) {
	now := m.now()
	s := m.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(prune(s.windows[key], now.Add(-m.cfg.Window))), nil
}

// Forget drops the window for key.
func (m *Memory) Forget(_ context.Context, key string) error {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}

// Prune drops windows with no timestamps inside the window and returns how
// many were removed.
func (m *Memory) Prune(_ context.Context) int {
	cutoff := m.now().Add(-m.cfg.Window)
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for key, window := range s.windows {
			if w := prune(window, cutoff); len(w) == 0 {
				delete(s.windows, key)
				removed++
			} else {
				s.windows[key] = w
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// prune drops timestamps at or before cutoff. Windows are append-only in
// time order, so the survivors are a suffix.
func prune(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	return append(window[:0], window[i:]...)
}
