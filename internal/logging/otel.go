// internal/logging/otel.go
package logging

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const otelScope = "github.com/fyrsmithlabs/leadflow"

// newDualCore creates core with stdout and/or OTEL outputs.
// Redaction wraps both outputs; only stdout is sampled.
func newDualCore(cfg *Config, otelProvider log.LoggerProvider, out zapcore.WriteSyncer) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout {
		core := zapcore.NewCore(newEncoder(cfg.Format), out, cfg.Level)
		cores = append(cores, newSampledCore(core, cfg.Sampling))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore(otelScope, otelzap.WithLoggerProvider(otelProvider)))
	}

	var core zapcore.Core
	switch len(cores) {
	case 0:
		return nil, fmt.Errorf("at least one output must be enabled and available")
	case 1:
		core = cores[0]
	default:
		core = zapcore.NewTee(cores...)
	}

	return NewRedactingCore(core, cfg.Redaction)
}
