package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. Idle sessions expire lazily on Get
// and Put and are purged by Sweep. Lazy expiry runs the store's evict hooks;
// Sweep leaves that to the Sweeper.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	hooks    []EvictHook
	closed   bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for lazy expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// WithEvictHook runs hooks for each session dropped by lazy expiry.
func WithEvictHook(hooks ...EvictHook) MemoryOption {
	return func(m *MemoryStore) {
		m.hooks = append(m.hooks, hooks...)
	}
}

// NewMemoryStore creates an in-process store. ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s, ok := m.sessions[id]
	expired := ok && s.IdleSince(m.now(), m.ttl)
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if expired {
		m.mu.Lock()
		var gone *Session
		if cur, ok := m.sessions[id]; ok && cur.IdleSince(m.now(), m.ttl) {
			delete(m.sessions, id)
			gone = cur
		}
		m.mu.Unlock()
		m.evicted(ctx, gone)
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Put commits s with an optimistic version check.
func (m *MemoryStore) Put(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidID)
	}
	gone, err := m.put(s)
	m.evicted(ctx, gone)
	return err
}

// put commits under the lock and returns the session it lazily expired, if
// any.
func (m *MemoryStore) put(s *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var gone *Session
	cur, ok := m.sessions[s.ID]
	if ok && cur.IdleSince(m.now(), m.ttl) {
		delete(m.sessions, s.ID)
		gone, ok = cur, false
	}

	switch {
	case s.Version == 0 && ok:
		return gone, ErrAlreadyExists
	case s.Version != 0 && !ok:
		return gone, ErrNotFound
	case s.Version != 0 && cur.Version != s.Version:
		return gone, fmt.Errorf("%w: stored %d, have %d", ErrVersionConflict, cur.Version, s.Version)
	}

	s.Version++
	m.sessions[s.ID] = s.Clone()
	return gone, nil
}

// evicted runs the hooks for a lazily expired session, outside the lock.
func (m *MemoryStore) evicted(ctx context.Context, s *Session) {
	if s == nil || len(m.hooks) == 0 || s.State.CheckTransition(StateExpired) != nil {
		return
	}
	snap := s.Clone()
	snap.State = StateExpired
	for _, hook := range m.hooks {
		hook(ctx, snap)
	}
}

// Delete removes the session. Deleting a missing id is not an error.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.sessions, id)
	return nil
}

// Sweep purges sessions idle at now and returns them marked expired.
func (m *MemoryStore) Sweep(_ context.Context, now time.Time) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	var evicted []*Session
	for id, s := range m.sessions {
		if !s.IdleSince(now, m.ttl) {
			continue
		}
		delete(m.sessions, id)
		if s.State.CheckTransition(StateExpired) != nil {
			continue
		}
		snap := s.Clone()
		snap.State = StateExpired
		evicted = append(evicted, snap)
	}
	return evicted, nil
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	return nil
}
