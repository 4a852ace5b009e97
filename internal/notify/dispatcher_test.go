package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/leadflow/internal/redact"
)

type mockSink struct {
	SendFunc func(ctx context.Context, p Payload) error
	calls    atomic.Int32
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Send(ctx context.Context, p Payload) error {
	m.calls.Add(1)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, p)
	}
	return nil
}

type mockRecorder struct {
	mu   sync.Mutex
	dead []DeadLetter
}

func (r *mockRecorder) RecordFailure(_ context.Context, dl DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dead = append(r.dead, dl)
	return nil
}

func (r *mockRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dead)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testPayload(id string) Payload {
	return Payload{
		CorrelationID: id,
		SessionID:     "web_1700000000_abcd1234",
		Phone:         "5511999998888",
		Message:       "Olá João",
		Lead:          map[string]string{"name": "João", "legal_area": "penal"},
		CompletedAt:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      8,
		AttemptTimeout: time.Second,
		Retry:          RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, Multiplier: 2},
		Breaker:        BreakerConfig{Threshold: 100, Window: time.Minute, Cooldown: time.Minute},
	}
}

func newTestDispatcher(t *testing.T, sink Sink, cfg Config, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(sink, cfg, opts...)
	require.NoError(t, err)
	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func waitForState(t *testing.T, d *Dispatcher, id string, want DeliveryState) Delivery {
	t.Helper()
	var got Delivery
	require.Eventually(t, func() bool {
		var ok bool
		got, ok = d.Status(id)
		return ok && got.State == want
	}, 5*time.Second, 5*time.Millisecond, "delivery %s never reached %s", id, want)
	return got
}

func TestNew_RequiresSink(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestDispatcher_Delivers(t *testing.T) {
	sink := &mockSink{}
	reg := prometheus.NewRegistry()
	d := newTestDispatcher(t, sink, testConfig(), WithRegisterer(reg))

	require.NoError(t, d.Dispatch(context.Background(), testPayload("corr-1")))

	rec := waitForState(t, d, "corr-1", DeliveryDelivered)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "mock", rec.Sink)
	assert.Empty(t, rec.LastError)
	assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.Deliveries.WithLabelValues("mock", "delivered")))
}

func TestDispatcher_DispatchDoesNotWaitForSink(t *testing.T) {
	release := make(chan struct{})
	sink := &mockSink{SendFunc: func(ctx context.Context, _ Payload) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
	d := newTestDispatcher(t, sink, testConfig())

	start := time.Now()
	require.NoError(t, d.Dispatch(context.Background(), testPayload("corr-slow")))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	rec, ok := d.Status("corr-slow")
	require.True(t, ok)
	assert.Equal(t, DeliveryPending, rec.State)

	close(release)
	waitForState(t, d, "corr-slow", DeliveryDelivered)
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	var n atomic.Int32
	sink := &mockSink{SendFunc: func(context.Context, Payload) error {
		if n.Add(1) < 3 {
			return errors.New("gateway unavailable")
		}
		return nil
	}}
	sleeper := &sleepRecorder{}
	d := newTestDispatcher(t, sink, testConfig(), WithSleep(sleeper.Sleep))

	require.NoError(t, d.Dispatch(context.Background(), testPayload("corr-2")))

	rec := waitForState(t, d, "corr-2", DeliveryDelivered)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, sleeper.Delays())
}

func TestDispatcher_ExhaustsRetries(t *testing.T) {
	sink := &mockSink{SendFunc: func(context.Context, Payload) error {
		return errors.New("gateway unavailable")
	}}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.Retry = RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: 4 * time.Second, Multiplier: 2}
	sleeper := &sleepRecorder{}
	recorder := &mockRecorder{}
	d := newTestDispatcher(t, sink, cfg, WithSleep(sleeper.Sleep), WithFailureRecorder(recorder))

	require.NoError(t, d.Dispatch(context.Background(), testPayload("corr-3")))

	select {
	case failed := <-d.Failures():
		assert.Equal(t, "corr-3", failed.CorrelationID)
		assert.Equal(t, DeliveryFailed, failed.State)
		assert.Equal(t, 5, failed.Attempts)
		assert.Contains(t, failed.LastError, "gateway unavailable")
	case <-time.After(5 * time.Second):
		t.Fatal("no failure published")
	}

	assert.Equal(t, int32(5), sink.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}, sleeper.Delays())
	assert.Equal(t, 1, recorder.count())

	delays := sleeper.Delays()
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

func TestDispatcher_RedactsSinkErrors(t *testing.T) {
	sink := &mockSink{SendFunc: func(context.Context, Payload) error {
		return errors.New(`gateway returned 400: {"error":"5511999998888 is not on whatsapp"}`)
	}}
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	recorder := &mockRecorder{}
	d := newTestDispatcher(t, sink, cfg, WithFailureRecorder(recorder), WithRedactor(redact.MustNew(nil)))

	require.NoError(t, d.Dispatch(context.Background(), testPayload("corr-pii")))

	rec := waitForState(t, d, "corr-pii", DeliveryFailed)
	assert.NotContains(t, rec.LastError, "5511999998888")
	assert.Contains(t, rec.LastError, "[REDACTED]")
	assert.Contains(t, rec.LastError, "gateway returned 400")

	require.Eventually(t, func() bool { return recorder.count() == 1 }, time.Second, 5*time.Millisecond)
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.NotContains(t, recorder.dead[0].Delivery.LastError, "5511999998888")
}

func TestDispatcher_BreakerFailsFast(t *testing.T) {
	sink := &mockSink{SendFunc: func(context.Context, Payload) error {
		return errors.New("gateway unavailable")
	}}
	clock := newFakeClock()
	cfg := testConfig()
	cfg.Workers = 1
	cfg.Retry.MaxAttempts = 4
	cfg.Breaker = BreakerConfig{Threshold: 2, Window: time.Minute, Cooldown: time.Hour}
	d := newTestDispatcher(t, sink, cfg, WithClock(clock.Now), WithSleep(func(context.Context, time.Duration) error { return nil }))

	require.NoError(t, d.Dispatch(context.Background(), testPayload("corr-4")))

	rec := waitForState(t, d, "corr-4", DeliveryFailed)
	assert.Equal(t, 4, rec.Attempts, "fail-fast attempts still count")
	assert.Equal(t, int32(2), sink.calls.Load(), "open breaker must not reach the sink")
	assert.Contains(t, rec.LastError, ErrCircuitOpen.Error())
	assert.Equal(t, BreakerOpen, d.BreakerState())
	assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.BreakerState.WithLabelValues("open")))
}

func TestDispatcher_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	d, err := New(&mockSink{}, cfg)
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), testPayload("corr-a")))
	err = d.Dispatch(context.Background(), testPayload("corr-b"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.Dropped))

	require.NoError(t, d.Close(context.Background()))
	rec, ok := d.Status("corr-a")
	require.True(t, ok)
	assert.Equal(t, DeliveryFailed, rec.State)
}

func TestDispatcher_RejectsInvalidPayload(t *testing.T) {
	d := newTestDispatcher(t, &mockSink{}, testConfig())

	err := d.Dispatch(context.Background(), Payload{SessionID: "s"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDispatcher_ClosedRejectsDispatch(t *testing.T) {
	d, err := New(&mockSink{}, testConfig())
	require.NoError(t, err)
	d.Start()
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()), "second close is a no-op")

	assert.ErrorIs(t, d.Dispatch(context.Background(), testPayload("late")), ErrDispatcherClosed)
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	sink := &mockSink{}
	d, err := New(sink, testConfig())
	require.NoError(t, err)
	d.Start()

	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		require.NoError(t, d.Dispatch(context.Background(), testPayload(id)))
	}
	require.NoError(t, d.Close(context.Background()))

	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		rec, ok := d.Status(id)
		require.True(t, ok)
		assert.Equal(t, DeliveryDelivered, rec.State, id)
	}
}

func TestDispatcher_CloseTimeoutCancelsInFlight(t *testing.T) {
	sink := &mockSink{SendFunc: func(ctx context.Context, _ Payload) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	cfg := testConfig()
	cfg.AttemptTimeout = time.Minute
	d, err := New(sink, cfg)
	require.NoError(t, err)
	d.Start()

	require.NoError(t, d.Dispatch(context.Background(), testPayload("stuck")))
	require.Eventually(t, func() bool { return sink.calls.Load() > 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec, ok := d.Status("stuck")
	require.True(t, ok)
	assert.Equal(t, DeliveryFailed, rec.State)
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := newHistory(2)
	h.put(Delivery{CorrelationID: "a"})
	h.put(Delivery{CorrelationID: "b"})
	h.put(Delivery{CorrelationID: "a", State: DeliveryDelivered})
	h.put(Delivery{CorrelationID: "c"})

	_, ok := h.get("a")
	assert.False(t, ok)
	_, ok = h.get("b")
	assert.True(t, ok)
	_, ok = h.get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, h.len())
}
