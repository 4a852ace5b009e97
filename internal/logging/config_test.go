package logging

import (
	"testing"

	"github.com/fyrsmithlabs/leadflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.Redaction.PIIFields, "phone")
	assert.Equal(t, "leadflow", cfg.Fields["service"])
}

func TestFromSettings(t *testing.T) {
	tests := []struct {
		name      string
		in        config.LoggingConfig
		wantLevel zapcore.Level
		wantFmt   string
		wantErr   bool
	}{
		{"defaults", config.LoggingConfig{}, zapcore.InfoLevel, "json", false},
		{"debug console", config.LoggingConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel, "console", false},
		{"trace", config.LoggingConfig{Level: "TRACE"}, TraceLevel, "json", false},
		{"bad level", config.LoggingConfig{Level: "loud"}, 0, "", true},
		{"bad format", config.LoggingConfig{Format: "xml"}, 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromSettings(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, cfg.Level)
			assert.Equal(t, tt.wantFmt, cfg.Format)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no outputs", func(c *Config) { c.Output.Stdout = false }},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }},
		{"negative skip", func(c *Config) { c.Caller.Skip = -1 }},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"["} }},
		{"empty field value", func(c *Config) { c.Fields["env"] = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
