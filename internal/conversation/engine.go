package conversation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/leadflow/internal/extraction"
	"github.com/fyrsmithlabs/leadflow/internal/leads"
	"github.com/fyrsmithlabs/leadflow/internal/logging"
	"github.com/fyrsmithlabs/leadflow/internal/notify"
	"github.com/fyrsmithlabs/leadflow/internal/session"
)

const (
	defaultTurnTimeout = 5 * time.Second
	defaultRetryAfter  = 30 * time.Second
	archiveTimeout     = 2 * time.Second
	snapshotTimeout    = time.Second
)

// ErrPanic wraps a panic recovered during a turn.
var ErrPanic = errors.New("panic during turn")

// Config configures an Engine.
type Config struct {
	// RequiredFields must all be present, in addition to a score of 1.0,
	// for a session to complete. Prompts follow this order.
	RequiredFields []string
	TurnTimeout    time.Duration
	MergePolicy    MergePolicy
	// Location is used for time-of-day greetings.
	Location   *time.Location
	RetryAfter time.Duration
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if len(c.RequiredFields) == 0 {
		c.RequiredFields = []string{extraction.FieldName, extraction.FieldPhone, extraction.FieldLegalArea}
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = defaultTurnTimeout
	}
	if c.MergePolicy == "" {
		c.MergePolicy = MergeGreaterOrEqual
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = defaultRetryAfter
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MergePolicy != MergeGreaterOrEqual && c.MergePolicy != MergeStrictlyGreater {
		return fmt.Errorf("unknown merge policy %q", c.MergePolicy)
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = NewLogger(l) }
}

// WithMetrics sets the OTEL instruments.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock sets the time source for session timestamps and greetings.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier sets where completed leads are dispatched.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithArchive sets where completed leads are stored.
func WithArchive(a Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithRedactor scrubs fault messages before they are stored in a session.
func WithRedactor(r Redactor) Option {
	return func(e *Engine) { e.redactor = r }
}

// WithFlow replaces the default texts.
func WithFlow(f Flow) Option {
	return func(e *Engine) { e.flow.Store(&f) }
}

// Engine processes chat messages for many sessions concurrently, one turn
// at a time per session.
type Engine struct {
	store     session.Store
	limiter   RateLimiter
	locks     Locker
	extractor extraction.Extractor
	notifier  Notifier
	archive   Archive
	redactor  Redactor

	flow    atomic.Pointer[Flow]
	cfg     Config
	log     *Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates an Engine.
func New(store session.Store, limiter RateLimiter, locks Locker, extractor extraction.Extractor, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil || limiter == nil || locks == nil || extractor == nil {
		return nil, errors.New("conversation: store, limiter, locker and extractor are required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:     store,
		limiter:   limiter,
		locks:     locks,
		extractor: extractor,
		cfg:       cfg,
		log:       NewLogger(nil),
		tracer:    Tracer(),
		now:       time.Now,
	}
	def := DefaultFlow()
	e.flow.Store(&def)
	for _, opt := range opts {
		opt(e)
	}
	if err := e.texts().Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// SetFlow replaces the texts used by turns that start after it returns. An
// invalid flow is rejected and the current one stays in use.
func (e *Engine) SetFlow(f Flow) error {
	if err := f.Validate(); err != nil {
		return err
	}
	e.flow.Store(&f)
	return nil
}

func (e *Engine) texts() *Flow { return e.flow.Load() }

// outcome describes what a successful turn changed.
type outcome struct {
	recovered     bool
	recoveredFrom session.FaultKind
	completed     bool
	newFields     []string
}

// Process handles one message. It never fails: faults become system_error or
// error_recovery responses and the session keeps its last good data.
func (e *Engine) Process(ctx context.Context, req Request) Response {
	began := time.Now()
	correlationID := uuid.NewString()
	ctx = logging.WithCorrelationID(logging.WithSessionID(ctx, req.SessionID), correlationID)

	ctx, span := e.tracer.Start(ctx, "conversation.Process",
		trace.WithAttributes(attribute.String("correlation.id", correlationID)))
	defer span.End()

	resp := e.process(ctx, req, correlationID)
	resp.SessionID = req.SessionID
	resp.CorrelationID = correlationID
	if resp.ExtractedData == nil {
		resp.ExtractedData = map[string]string{}
	}

	span.SetAttributes(
		attribute.String("response_type", string(resp.ResponseType)),
		attribute.Bool("flow_completed", resp.FlowCompleted),
	)
	if resp.ResponseType == ResponseSystemError {
		span.SetStatus(codes.Error, "system error")
	}
	e.metrics.RecordTurn(ctx, resp.ResponseType, time.Since(began))
	return resp
}

func (e *Engine) process(ctx context.Context, req Request, correlationID string) Response {
	if err := session.ValidateID(req.SessionID); err != nil {
		e.log.Debug(ctx, "rejected session id", zap.Error(err))
		return Response{Response: e.texts().SystemError, ResponseType: ResponseSystemError}
	}

	allowed, err := e.limiter.Allow(ctx, req.SessionID)
	if err != nil {
		e.log.LimiterUnavailable(ctx, err)
		allowed = true
	}
	if !allowed {
		e.log.RateLimited(ctx)
		e.metrics.RecordFault(ctx, string(session.FaultRateLimitExceeded))
		return Response{
			Response:          e.texts().RateLimited,
			ResponseType:      ResponseRateLimited,
			RetryAfterSeconds: int(e.cfg.RetryAfter / time.Second),
		}
	}

	turnCtx, cancel := context.WithTimeout(ctx, e.cfg.TurnTimeout)
	defer cancel()

	waitStart := time.Now()
	release, err := e.locks.Acquire(turnCtx, req.SessionID)
	wait := time.Since(waitStart)
	e.metrics.RecordLockWait(ctx, wait, err == nil)
	if err != nil {
		return e.lockTimeout(ctx, req.SessionID, wait, err)
	}
	defer release()

	return e.turn(turnCtx, req, correlationID)
}

// lockTimeout answers without mutating anything, from a read-only snapshot.
func (e *Engine) lockTimeout(ctx context.Context, id string, wait time.Duration, err error) Response {
	e.log.LockTimeout(ctx, wait, err)
	e.metrics.RecordFault(ctx, string(session.FaultLockTimeout))
	trace.SpanFromContext(ctx).RecordError(err)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()
	snap, gerr := e.store.Get(sctx, id)
	if gerr != nil {
		return Response{Response: e.texts().SystemError, ResponseType: ResponseSystemError}
	}
	if snap.ErrorContext != nil {
		return e.respond(snap, ResponseRecovery, e.texts().Busy)
	}
	return e.respond(snap, ResponseSystemError, e.texts().SystemError)
}

// turn runs under the session lock. It commits at most once.
func (e *Engine) turn(ctx context.Context, req Request, correlationID string) Response {
	began := time.Now()
	now := e.now()

	s, err := e.store.Get(ctx, req.SessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		s = session.New(req.SessionID, now)
	case err != nil:
		return e.storageFailure(ctx, nil, err)
	}

	if s.State == session.StateCompleted {
		return e.respond(s, ResponseNormal, render(e.texts().Completion, s))
	}

	prev := s.Clone()
	out, err := e.advance(ctx, s, req.Message, now, correlationID)
	if cerr := ctx.Err(); cerr != nil {
		e.log.Abandoned(ctx, errors.Join(cerr, err))
		e.metrics.RecordFault(ctx, "TurnTimeout")
		return e.respond(prev, ResponseSystemError, e.texts().SystemError)
	}
	if err != nil {
		return e.fail(ctx, prev, session.FaultExtractionFailure, err, now)
	}
	if err := prev.State.CheckTransition(s.State); err != nil {
		return e.rejectTransition(ctx, prev, err)
	}

	if err := e.store.Put(ctx, s); err != nil {
		return e.storageFailure(ctx, prev, err)
	}
	e.metrics.RecordScore(ctx, s.ConfidenceScore)

	if out.recovered {
		e.log.Recovered(ctx, out.recoveredFrom)
	}
	if out.completed {
		e.log.Completed(ctx, s.CompletionCorrelationID, s.Value(extraction.FieldLegalArea), s.MessageCount)
		e.metrics.RecordCompletion(ctx, s.Value(extraction.FieldLegalArea))
		e.handoff(ctx, s)
	}
	e.log.TurnProcessed(ctx, s.State, s.ConfidenceScore, out.newFields, time.Since(began))

	text := e.nextPrompt(s)
	if out.completed {
		text = render(e.texts().Completion, s)
	}
	rt := ResponseNormal
	if out.recovered {
		rt = ResponseRecovery
		text = e.texts().Recovered + "\n\n" + text
	}
	return e.respond(s, rt, text)
}

// advance applies one message to s in place.
func (e *Engine) advance(ctx context.Context, s *session.Session, msg string, now time.Time, correlationID string) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	res, err := e.extractor.Extract(ctx, msg, toFields(s.ExtractedData))
	if err != nil {
		return out, err
	}

	if s.State == session.StateError {
		out.recovered = true
		if s.ErrorContext != nil {
			out.recoveredFrom = s.ErrorContext.Kind
		}
		s.ErrorContext = nil
		s.State = session.StateActive
	}

	out.newFields = e.merge(s, res.Fields, now)
	s.ConfidenceScore = clampScore(s.ConfidenceScore + max(res.ConfidenceDelta, 0))
	s.LastActivityAt = now
	s.MessageCount++

	if e.completes(s) {
		s.State = session.StateCompleted
		completedAt := now
		s.CompletedAt = &completedAt
		s.CompletionCorrelationID = correlationID
		out.completed = true
	}
	return out, nil
}

// merge applies extracted fields under the merge policy and returns the
// names of fields that were absent before.
func (e *Engine) merge(s *session.Session, found extraction.Fields, now time.Time) []string {
	var added []string
	for _, name := range slices.Sorted(maps.Keys(found)) {
		f := found[name]
		if f.Value == "" {
			continue
		}
		old, had := s.ExtractedData[name]
		had = had && old.Value != ""
		if had && !e.cfg.MergePolicy.replaces(old.Confidence, f.Confidence) {
			continue
		}
		if !had {
			added = append(added, name)
		}
		s.ExtractedData[name] = session.FieldValue{Value: f.Value, Confidence: f.Confidence, UpdatedAt: now}
	}
	return added
}

// completes is the completion predicate. Scores are sums of binary-exact
// weights clamped to 1, so the comparison is exact.
func (e *Engine) completes(s *session.Session) bool {
	if s.ConfidenceScore < 1.0 {
		return false
	}
	for _, f := range e.cfg.RequiredFields {
		if !s.Has(f) {
			return false
		}
	}
	return true
}

// fail moves the session to the error state, keeping its last good data.
func (e *Engine) fail(ctx context.Context, prev *session.Session, kind session.FaultKind, cause error, now time.Time) Response {
	if err := prev.State.CheckTransition(session.StateError); err != nil {
		return e.rejectTransition(ctx, prev, err)
	}
	msg := e.faultMessage(cause)
	e.log.Fault(ctx, kind, errors.New(msg))
	e.metrics.RecordFault(ctx, string(kind))
	trace.SpanFromContext(ctx).RecordError(errors.New(msg))

	s := prev.Clone()
	recoveredFrom := prev.State
	if prev.ErrorContext != nil {
		recoveredFrom = prev.ErrorContext.RecoveredFrom
	}
	s.State = session.StateError
	s.ErrorContext = &session.ErrorContext{
		Kind:          kind,
		Message:       msg,
		RecoveredFrom: recoveredFrom,
		LastGoodData:  maps.Clone(prev.ExtractedData),
		LastGoodScore: prev.ConfidenceScore,
		OccurredAt:    now,
	}
	s.LastActivityAt = now
	s.MessageCount++

	if err := e.store.Put(ctx, s); err != nil {
		return e.storageFailure(ctx, prev, err)
	}
	return e.respond(s, ResponseSystemError, e.texts().SystemError)
}

// rejectTransition answers from prev without writing when a turn would move
// the session along an edge the lifecycle does not allow.
func (e *Engine) rejectTransition(ctx context.Context, prev *session.Session, err error) Response {
	e.log.Fault(ctx, session.FaultInvalidTransition, err)
	e.metrics.RecordFault(ctx, string(session.FaultInvalidTransition))
	trace.SpanFromContext(ctx).RecordError(err)
	return e.respond(prev, ResponseSystemError, e.texts().SystemError)
}

// storageFailure answers from the last good state; nothing was written.
func (e *Engine) storageFailure(ctx context.Context, prev *session.Session, err error) Response {
	e.log.Fault(ctx, session.FaultStorageFailure, err)
	e.metrics.RecordFault(ctx, string(session.FaultStorageFailure))
	trace.SpanFromContext(ctx).RecordError(err)
	if prev == nil {
		return Response{Response: e.texts().SystemError, ResponseType: ResponseSystemError}
	}
	return e.respond(prev, ResponseSystemError, e.texts().SystemError)
}

// handoff archives the lead and queues its notification. Neither outcome
// changes the committed session.
func (e *Engine) handoff(ctx context.Context, s *session.Session) {
	ctx = context.WithoutCancel(ctx)

	if e.archive != nil {
		actx, cancel := context.WithTimeout(ctx, archiveTimeout)
		err := e.archive.Save(actx, leadFrom(s))
		cancel()
		if err != nil {
			e.log.HandoffFailed(ctx, "archive", err)
			e.metrics.RecordFault(ctx, string(session.FaultStorageFailure))
		}
	}

	if e.notifier != nil {
		if err := e.notifier.Dispatch(ctx, e.payload(s)); err != nil {
			e.log.HandoffFailed(ctx, "notifier", err)
			e.metrics.RecordFault(ctx, string(session.FaultNotificationFailure))
		}
	}
}

func (e *Engine) payload(s *session.Session) notify.Payload {
	p := notify.Payload{
		CorrelationID:   s.CompletionCorrelationID,
		SessionID:       s.ID,
		Phone:           s.Value(extraction.FieldPhone),
		Message:         render(e.texts().WelcomeLead, s),
		Summary:         render(e.texts().LeadSummary, s),
		Lead:            flatten(s.ExtractedData),
		ConfidenceScore: s.ConfidenceScore,
	}
	if s.CompletedAt != nil {
		p.CompletedAt = *s.CompletedAt
	}
	return p
}

// Start creates or resumes a session and greets the user. An empty id gets a
// generated one.
func (e *Engine) Start(ctx context.Context, sessionID string) (Response, error) {
	began := time.Now()
	if sessionID == "" {
		sessionID = session.NewID(e.now())
	}
	if err := session.ValidateID(sessionID); err != nil {
		return Response{}, err
	}
	correlationID := uuid.NewString()
	ctx = logging.WithCorrelationID(logging.WithSessionID(ctx, sessionID), correlationID)
	ctx, span := e.tracer.Start(ctx, "conversation.Start")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TurnTimeout)
	defer cancel()

	release, err := e.locks.Acquire(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return Response{}, err
	}
	defer release()

	s, err := e.store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		s = session.New(sessionID, e.now())
		if err := e.store.Put(ctx, s); err != nil {
			span.RecordError(err)
			return Response{}, fmt.Errorf("create session: %w", err)
		}
	case err != nil:
		span.RecordError(err)
		return Response{}, fmt.Errorf("load session: %w", err)
	}

	var resp Response
	if s.State == session.StateCompleted {
		resp = e.respond(s, ResponseNormal, render(e.texts().Completion, s))
	} else {
		resp = e.respond(s, ResponseGreeting, e.welcomeText(s))
	}
	resp.SessionID = sessionID
	resp.CorrelationID = correlationID
	e.metrics.RecordTurn(ctx, resp.ResponseType, time.Since(began))
	return resp, nil
}

// Status returns a read-only snapshot, with the notification record once the
// session has completed.
func (e *Engine) Status(ctx context.Context, sessionID string) (Snapshot, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return Snapshot{}, err
	}
	s, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		SessionID:       s.ID,
		State:           s.State,
		ExtractedData:   s.ExtractedData,
		ConfidenceScore: s.ConfidenceScore,
		FlowCompleted:   s.State == session.StateCompleted,
		MessageCount:    s.MessageCount,
		CreatedAt:       s.CreatedAt,
		LastActivityAt:  s.LastActivityAt,
		CompletedAt:     s.CompletedAt,
		ErrorContext:    s.ErrorContext,
	}
	if s.CompletionCorrelationID != "" && e.notifier != nil {
		if d, ok := e.notifier.Status(s.CompletionCorrelationID); ok {
			snap.Notification = &d
		}
	}
	return snap, nil
}

// Reset deletes the session and its rate window so the next message starts
// over.
func (e *Engine) Reset(ctx context.Context, sessionID string) error {
	if err := session.ValidateID(sessionID); err != nil {
		return err
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	release, err := e.locks.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := e.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := e.limiter.Forget(ctx, sessionID); err != nil {
		e.log.LimiterUnavailable(ctx, err)
	}
	e.log.SessionReset(ctx)
	return nil
}

func (e *Engine) respond(s *session.Session, rt ResponseType, text string) Response {
	return Response{
		SessionID:       s.ID,
		Response:        text,
		ResponseType:    rt,
		FlowCompleted:   s.State == session.StateCompleted,
		ConfidenceScore: s.ConfidenceScore,
		State:           s.State,
		ExtractedData:   flatten(s.ExtractedData),
	}
}

func (e *Engine) faultMessage(err error) string {
	if e.redactor == nil {
		return err.Error()
	}
	return e.redactor.Redact(err.Error())
}

func clampScore(v float64) float64 {
	return min(max(v, 0), 1)
}

func toFields(data map[string]session.FieldValue) extraction.Fields {
	out := make(extraction.Fields, len(data))
	for k, v := range data {
		out[k] = extraction.Field{Value: v.Value, Confidence: v.Confidence}
	}
	return out
}

func flatten(data map[string]session.FieldValue) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v.Value
	}
	return out
}

func leadFrom(s *session.Session) leads.Lead {
	l := leads.Lead{
		ID:              s.CompletionCorrelationID,
		SessionID:       s.ID,
		Name:            s.Value(extraction.FieldName),
		Phone:           s.Value(extraction.FieldPhone),
		Email:           s.Value(extraction.FieldEmail),
		LegalArea:       s.Value(extraction.FieldLegalArea),
		Urgency:         s.Value(extraction.FieldUrgency),
		Situation:       s.Value(extraction.FieldSituation),
		ConfidenceScore: s.ConfidenceScore,
		Data:            flatten(s.ExtractedData),
	}
	if s.CompletedAt != nil {
		l.CompletedAt = *s.CompletedAt
	}
	return l
}

// SystemError is the chat-shaped answer for a request rejected before any
// turn ran.
func (e *Engine) SystemError(sessionID string) Response {
	return Response{
		SessionID:     sessionID,
		Response:      e.texts().SystemError,
		ResponseType:  ResponseSystemError,
		ExtractedData: map[string]string{},
	}
}
