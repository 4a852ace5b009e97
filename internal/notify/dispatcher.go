package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config configures a Dispatcher.
type Config struct {
	Workers        int
	QueueSize      int
	AttemptTimeout time.Duration
	Retry          RetryPolicy
	Breaker        BreakerConfig
	// SendRate caps sink calls per second across workers. Zero is unlimited.
	SendRate    float64
	SendBurst   int
	HistorySize int
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
	c.Retry.ApplyDefaults()
	c.Breaker = c.Breaker.withDefaults()
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Payload contents are never logged.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRegisterer registers the dispatcher's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) { d.reg = reg }
}

// WithFailureRecorder persists dead letters.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// Redactor strips personal data from error text before it is recorded.
type Redactor interface {
	Redact(text string) string
}

// WithRedactor scrubs sink errors before they reach history, dead letters
// and logs. Gateways often echo the number they rejected.
func WithRedactor(r Redactor) Option {
	return func(d *Dispatcher) { d.redactor = r }
}

// WithSleep replaces the backoff wait. fn must return ctx.Err() when ctx ends
// first.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = fn }
}

// WithClock sets the time source used for records and the breaker.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

type job struct {
	payload  Payload
	queuedAt time.Time
}

// Dispatcher delivers notifications asynchronously through a Sink.
type Dispatcher struct {
	sink     Sink
	cfg      Config
	delays   []time.Duration
	breaker  *Breaker
	limiter  *rate.Limiter
	history  *history
	failures chan Delivery
	metrics  *Metrics

	logger   *zap.Logger
	reg      prometheus.Registerer
	recorder FailureRecorder
	redactor Redactor
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	queue  chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	shutdownMu sync.RWMutex
	started    bool
	closed     bool
}

// New creates a dispatcher. Call Start before Dispatch.
func New(sink Sink, cfg Config, opts ...Option) (*Dispatcher, error) {
	if sink == nil {
		return nil, errors.New("notify: sink is required")
	}
	cfg.ApplyDefaults()

	d := &Dispatcher{
		sink:     sink,
		cfg:      cfg,
		delays:   cfg.Retry.Schedule(),
		history:  newHistory(cfg.HistorySize),
		failures: make(chan Delivery, 64),
		queue:    make(chan job, cfg.QueueSize),
		logger:   zap.NewNop(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.metrics = NewMetrics(d.reg)
	d.breaker = NewBreaker(cfg.Breaker, d.now)
	d.metrics.setBreaker(BreakerClosed)
	d.breaker.OnStateChange(func(from, to BreakerState) {
		d.metrics.setBreaker(to)
		d.logger.Warn("notification circuit breaker changed state",
			zap.String("sink", sink.Name()),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	})

	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	d.limiter = rate.NewLimiter(limit, cfg.SendBurst)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start launches the worker pool. It is a no-op after the first call.
func (d *Dispatcher) Start() {
	d.shutdownMu.Lock()
	defer d.shutdownMu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Dispatch enqueues p without blocking. The returned error only reports
// whether the notification was accepted, never its delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}

	d.shutdownMu.RLock()
	defer d.shutdownMu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	now := d.now()
	rec := Delivery{
		CorrelationID: p.CorrelationID,
		SessionID:     p.SessionID,
		Sink:          d.sink.Name(),
		State:         DeliveryPending,
		QueuedAt:      now,
		UpdatedAt:     now,
	}
	// Recorded before enqueueing so a fast worker's outcome is never
	// overwritten by the pending record.
	d.history.put(rec)

	select {
	case d.queue <- job{payload: p, queuedAt: now}:
	default:
		rec.State = DeliveryFailed
		rec.LastError = ErrQueueFull.Error()
		d.history.put(rec)
		d.metrics.Dropped.Inc()
		d.logger.Error("notification queue full, dropping",
			zap.String("correlation_id", p.CorrelationID),
			zap.String("session_id", p.SessionID))
		return ErrQueueFull
	}

	d.metrics.QueueDepth.Set(float64(len(d.queue)))
	return nil
}

// Close stops accepting work and waits for queued notifications to finish.
// When ctx ends first, in-flight sends and backoffs are cancelled and the
// remaining notifications are marked failed.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.shutdownMu.Lock()
	if d.closed {
		d.shutdownMu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.shutdownMu.Unlock()

	if !started {
		d.cancel()
		for j := range d.queue {
			d.finish(j, 0, ErrDispatcherClosed)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("notification drain interrupted: %w", ctx.Err())
	}
}

// Failures publishes permanently failed deliveries. Events are dropped when
// nobody keeps up with the channel.
func (d *Dispatcher) Failures() <-chan Delivery {
	return d.failures
}

// Status returns the latest record for a correlation id.
func (d *Dispatcher) Status(correlationID string) (Delivery, bool) {
	return d.history.get(correlationID)
}

// BreakerState returns the circuit breaker state.
func (d *Dispatcher) BreakerState() BreakerState {
	return d.breaker.State()
}

// QueueLen returns the number of notifications waiting for a worker.
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

// SinkName names the sink notifications go to.
func (d *Dispatcher) SinkName() string {
	return d.sink.Name()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
		d.deliver(j)
	}
}

// deliver runs every attempt for one notification.
func (d *Dispatcher) deliver(j job) {
	log := d.logger.With(
		zap.String("correlation_id", j.payload.CorrelationID),
		zap.String("session_id", j.payload.SessionID))

	var lastErr error
	attempts := 0
	for attempts < d.cfg.Retry.MaxAttempts {
		attempts++
		lastErr = d.attempt(j.payload)
		if lastErr == nil {
			d.metrics.Attempts.WithLabelValues(d.sink.Name(), "success").Inc()
			d.finish(j, attempts, nil)
			log.Info("notification delivered", zap.Int("attempts", attempts))
			return
		}

		result := "error"
		if errors.Is(lastErr, ErrCircuitOpen) {
			result = "circuit_open"
		}
		d.metrics.Attempts.WithLabelValues(d.sink.Name(), result).Inc()
		d.history.put(d.record(j, DeliveryPending, attempts, lastErr))

		if attempts == d.cfg.Retry.MaxAttempts {
			break
		}
		delay := d.delays[attempts-1]
		log.Warn("notification attempt failed",
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", delay),
			zap.String("error", d.errorText(lastErr)))
		if err := d.sleep(d.ctx, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	d.finish(j, attempts, lastErr)
	log.Error("notification delivery failed",
		zap.Int("attempts", attempts),
		zap.String("error", d.errorText(lastErr)))
}

func (d *Dispatcher) attempt(p Payload) error {
	if err := d.breaker.Allow(); err != nil {
		return err
	}
	if err := d.limiter.Wait(d.ctx); err != nil {
		d.breaker.Release()
		return err
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.AttemptTimeout)
	defer cancel()

	if err := d.sink.Send(ctx, p); err != nil {
		d.breaker.Failure()
		return err
	}
	d.breaker.Success()
	return nil
}

func (d *Dispatcher) record(j job, state DeliveryState, attempts int, err error) Delivery {
	rec := Delivery{
		CorrelationID: j.payload.CorrelationID,
		SessionID:     j.payload.SessionID,
		Sink:          d.sink.Name(),
		State:         state,
		Attempts:      attempts,
		QueuedAt:      j.queuedAt,
		UpdatedAt:     d.now(),
	}
	if err != nil {
		rec.LastError = d.errorText(err)
	}
	return rec
}

func (d *Dispatcher) errorText(err error) string {
	if d.redactor == nil {
		return err.Error()
	}
	return d.redactor.Redact(err.Error())
}

// finish records the final outcome. A nil err means delivered.
func (d *Dispatcher) finish(j job, attempts int, err error) {
	state := DeliveryDelivered
	if err != nil {
		state = DeliveryFailed
	}
	rec := d.record(j, state, attempts, err)
	d.metrics.Deliveries.WithLabelValues(d.sink.Name(), string(state)).Inc()
	d.metrics.Duration.Observe(rec.UpdatedAt.Sub(j.queuedAt).Seconds())

	if err != nil && d.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if rerr := d.recorder.RecordFailure(ctx, DeadLetter{Delivery: rec, Payload: j.payload}); rerr != nil {
			d.logger.Error("failed to record notification failure",
				zap.String("correlation_id", rec.CorrelationID),
				zap.Error(rerr))
		}
		cancel()
	}

	d.history.put(rec)

	if err != nil {
		select {
		case d.failures <- rec:
		default:
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
