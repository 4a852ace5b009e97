package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestMemoryStore_PutGet(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(30*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	s := New("web_1", clock.Now())
	s.ExtractedData["name"] = FieldValue{Value: "Maria", Confidence: 0.9}
	require.NoError(t, store.Put(ctx, s))
	assert.Equal(t, int64(1), s.Version)

	got, err := store.Get(ctx, "web_1")
	require.NoError(t, err)
	assert.Equal(t, "Maria", got.Value("name"))
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	s := New("web_1", time.Now())
	require.NoError(t, store.Put(ctx, s))

	s.ExtractedData["name"] = FieldValue{Value: "after put"}
	got, err := store.Get(ctx, "web_1")
	require.NoError(t, err)
	assert.False(t, got.Has("name"))

	got.ExtractedData["phone"] = FieldValue{Value: "x"}
	again, _ := store.Get(ctx, "web_1")
	assert.False(t, again.Has("phone"))
}

func TestMemoryStore_Versioning(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, New("web_1", time.Now())))

	err := store.Put(ctx, New("web_1", time.Now()))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	a, _ := store.Get(ctx, "web_1")
	b, _ := store.Get(ctx, "web_1")
	require.NoError(t, store.Put(ctx, a))
	assert.ErrorIs(t, store.Put(ctx, b), ErrVersionConflict)

	missing := New("nope", time.Now())
	missing.Version = 3
	assert.ErrorIs(t, store.Put(ctx, missing), ErrNotFound)
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(30*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, New("web_1", clock.Now())))
	clock.Advance(31 * time.Minute)

	_, err := store.Get(ctx, "web_1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())

	// An expired id can be created again.
	assert.NoError(t, store.Put(ctx, New("web_1", clock.Now())))
}

func TestMemoryStore_LazyExpiryRunsEvictHooks(t *testing.T) {
	clock := newClock()
	var mu sync.Mutex
	var got []*Session
	store := NewMemoryStore(30*time.Minute, WithClock(clock.Now), WithEvictHook(func(_ context.Context, s *Session) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}))
	ctx := context.Background()

	first := New("web_get", clock.Now())
	first.ExtractedData["name"] = FieldValue{Value: "Ana"}
	require.NoError(t, store.Put(ctx, first))
	require.NoError(t, store.Put(ctx, New("web_put", clock.Now())))
	clock.Advance(31 * time.Minute)

	_, err := store.Get(ctx, "web_get")
	require.ErrorIs(t, err, ErrNotFound)
	// Recreating an expired id evicts the old session first.
	require.NoError(t, store.Put(ctx, New("web_put", clock.Now())))

	// A second Get of an already evicted id runs nothing.
	_, err = store.Get(ctx, "web_get")
	require.ErrorIs(t, err, ErrNotFound)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "web_get", got[0].ID)
	assert.Equal(t, StateExpired, got[0].State)
	assert.Equal(t, "Ana", got[0].Value("name"))
	assert.Equal(t, "web_put", got[1].ID)
}

func TestMemoryStore_SweepSkipsExpiredState(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	stale := New("stale", clock.Now())
	stale.State = StateExpired
	require.NoError(t, store.Put(ctx, stale))
	clock.Advance(2 * time.Minute)

	evicted, err := store.Sweep(ctx, clock.Now())
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(30*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	idle := New("idle", clock.Now())
	idle.ExtractedData["name"] = FieldValue{Value: "Ana"}
	require.NoError(t, store.Put(ctx, idle))
	clock.Advance(20 * time.Minute)
	require.NoError(t, store.Put(ctx, New("fresh", clock.Now())))
	clock.Advance(15 * time.Minute)

	evicted, err := store.Sweep(ctx, clock.Now())
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, "idle", evicted[0].ID)
	assert.Equal(t, StateExpired, evicted[0].State)
	assert.Equal(t, "Ana", evicted[0].Value("name"))

	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, New("web_1", time.Now())))
	require.NoError(t, store.Delete(ctx, "web_1"))
	require.NoError(t, store.Delete(ctx, "web_1"))

	_, err := store.Get(ctx, "web_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()
	require.NoError(t, store.Close())

	_, err := store.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Put(ctx, New("x", time.Now())), ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
}

func TestMemoryStore_ConcurrentCreateExactlyOnce(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Put(ctx, New("web_1", time.Now())); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}
