package conversation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/leadflow/internal/conversation"

// Metrics provides OpenTelemetry metrics for the engine. Session ids are
// never attributes; they live in traces and logs.
type Metrics struct {
	turnsTotal       metric.Int64Counter
	completionsTotal metric.Int64Counter
	faultsTotal      metric.Int64Counter
	turnDuration     metric.Float64Histogram
	lockWait         metric.Float64Histogram
	scoreAtCommit    metric.Float64Histogram

	initialized bool
}

// NewMetrics creates engine instruments. If meter is nil, uses the global
// meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.turnsTotal, err = meter.Int64Counter(
		"conversation.turns.total",
		metric.WithDescription("Messages processed by response type"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, err
	}

	m.completionsTotal, err = meter.Int64Counter(
		"conversation.completions.total",
		metric.WithDescription("Sessions that completed the flow"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	m.faultsTotal, err = meter.Int64Counter(
		"conversation.faults.total",
		metric.WithDescription("Per-turn faults by kind"),
		metric.WithUnit("{fault}"),
	)
	if err != nil {
		return nil, err
	}

	m.turnDuration, err = meter.Float64Histogram(
		"conversation.turn.duration.seconds",
		metric.WithDescription("Time to process one message"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5),
	)
	if err != nil {
		return nil, err
	}

	m.lockWait, err = meter.Float64Histogram(
		"conversation.lock.wait.seconds",
		metric.WithDescription("Time spent waiting for the session lock"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.01, 0.1, 0.5, 1, 2),
	)
	if err != nil {
		return nil, err
	}

	m.scoreAtCommit, err = meter.Float64Histogram(
		"conversation.confidence.score",
		metric.WithDescription("Confidence score at commit"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0, 0.25, 0.375, 0.5, 0.625, 0.75, 1.0),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordTurn records one processed message.
func (m *Metrics) RecordTurn(ctx context.Context, rt ResponseType, duration time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(attribute.String("response_type", string(rt)))
	m.turnsTotal.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordCompletion records a completed flow.
func (m *Metrics) RecordCompletion(ctx context.Context, legalArea string) {
	if m == nil || !m.initialized {
		return
	}
	m.completionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("legal_area", legalArea)))
}

// RecordFault records a per-turn fault.
func (m *Metrics) RecordFault(ctx context.Context, kind string) {
	if m == nil || !m.initialized {
		return
	}
	m.faultsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordLockWait records how long a turn waited for its lock.
func (m *Metrics) RecordLockWait(ctx context.Context, wait time.Duration, acquired bool) {
	if m == nil || !m.initialized {
		return
	}
	m.lockWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.Bool("acquired", acquired)))
}

// RecordScore records the committed confidence score.
func (m *Metrics) RecordScore(ctx context.Context, score float64) {
	if m == nil || !m.initialized {
		return
	}
	m.scoreAtCommit.Record(ctx, score)
}

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
