package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes notifications to the log. It is the default sink for
// development setups without a gateway.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink. A nil logger discards output.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Send logs the lead. The phone field relies on the logger's PII masking.
func (s *LogSink) Send(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("lead completed",
		zap.String("correlation_id", p.CorrelationID),
		zap.String("session_id", p.SessionID),
		zap.String("phone", p.Phone),
		zap.String("legal_area", p.Lead["legal_area"]),
		zap.Float64("confidence_score", p.ConfidenceScore),
		zap.Time("completed_at", p.CompletedAt))
	return nil
}
