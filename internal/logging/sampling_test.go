package logging

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/leadflow/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampledLogger(core zapcore.Core, cfg SamplingConfig) *Logger {
	return &Logger{zap: zap.New(newSampledCore(core, cfg)), config: NewDefaultConfig()}
}

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{Enabled: false}))
}

func TestNewSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := sampledLogger(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel:  {Initial: 1, Thereafter: 0},
			zapcore.ErrorLevel: {Initial: 1, Thereafter: 0},
		},
	})

	for i := 0; i < 50; i++ {
		logger.Error(context.Background(), "sink failed")
	}

	assert.Equal(t, 50, observed.FilterMessage("sink failed").Len())
}

func TestNewSampledCore_PerLevelRates(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	logger := sampledLogger(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.DebugLevel: {Initial: 2, Thereafter: 0},
			zapcore.InfoLevel:  {Initial: 5, Thereafter: 0},
		},
	})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		logger.Debug(ctx, "repeat")
		logger.Info(ctx, "repeat")
		logger.Warn(ctx, "repeat")
	}

	var debug, info, warn int
	for _, e := range observed.FilterMessage("repeat").All() {
		switch e.Level {
		case zapcore.DebugLevel:
			debug++
		case zapcore.InfoLevel:
			info++
		case zapcore.WarnLevel:
			warn++
		}
	}
	assert.Equal(t, 2, debug)
	assert.Equal(t, 5, info)
	assert.Equal(t, 20, warn, "levels without a rate pass through")
}

func TestLevelFilterCore_With(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	filtered := &levelFilterCore{Core: core, only: func(l zapcore.Level) bool { return l == zapcore.WarnLevel }}

	logger := zap.New(filtered.With([]zapcore.Field{zap.String("component", "breaker")}))
	logger.Info("skipped")
	logger.Warn("circuit opened")

	entries := observed.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "breaker", entries[0].ContextMap()["component"])
}
