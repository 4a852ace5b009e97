package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/leadflow/internal/session"
	"github.com/fyrsmithlabs/leadflow/internal/telemetry"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordTurn(ctx, ResponseNormal, time.Millisecond)
	m.RecordCompletion(ctx, "Direito Penal")
	m.RecordFault(ctx, "LockTimeout")
	m.RecordLockWait(ctx, time.Millisecond, true)
	m.RecordScore(ctx, 0.5)
}

func TestEngine_EmitsSpansAndMetrics(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	metrics, err := NewMetrics(tt.Meter(InstrumentationName))
	require.NoError(t, err)

	env := newTestEnv(t)
	env.engine.metrics = metrics
	env.engine.tracer = tt.Tracer(InstrumentationName)

	env.send(t, "Meu nome é João, telefone 11999998888")
	resp := env.send(t, "direito penal")
	require.True(t, resp.FlowCompleted)
	env.send(t, "")

	tt.AssertSpanExists(t, "conversation.Process")
	tt.AssertSpanAttribute(t, "conversation.Process", "response_type", string(ResponseNormal))

	assert.Equal(t, int64(3), tt.CounterValue(t, "conversation.turns.total"))
	assert.Equal(t, int64(1), tt.CounterValue(t, "conversation.completions.total"))
	assert.Zero(t, tt.CounterValue(t, "conversation.faults.total"), "completed sessions do not fault")
}

func TestEngine_FaultCounter(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	metrics, err := NewMetrics(tt.Meter(InstrumentationName))
	require.NoError(t, err)

	env := newTestEnv(t)
	env.engine.metrics = metrics

	resp := env.send(t, "")
	require.Equal(t, session.StateError, resp.State)
	assert.Equal(t, int64(1), tt.CounterValue(t, "conversation.faults.total"))
}
