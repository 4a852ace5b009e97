package conversation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/leadflow/internal/logging"
	"github.com/fyrsmithlabs/leadflow/internal/session"
)

// Logger wraps zap.Logger with conversation events. Session, correlation
// and trace ids come from the context.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("conversation")}
}

// TurnProcessed logs a committed turn.
func (l *Logger) TurnProcessed(ctx context.Context, state session.State, score float64, newFields []string, duration time.Duration) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info("turn processed", append(logging.ContextFields(ctx),
		zap.String("state", string(state)),
		zap.Float64("confidence_score", score),
		zap.Strings("new_fields", newFields),
		zap.Duration("duration", duration),
	)...)
}

// RateLimited logs a rejected message.
func (l *Logger) RateLimited(ctx context.Context) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Warn("message rate limited", append(logging.ContextFields(ctx),
		zap.String("fault", string(session.FaultRateLimitExceeded)))...)
}

// LimiterUnavailable logs a limiter error; the message is let through.
func (l *Logger) LimiterUnavailable(ctx context.Context, err error) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Warn("rate limiter unavailable, allowing message", append(logging.ContextFields(ctx), zap.Error(err))...)
}

// LockTimeout logs a turn that could not get the session lock.
func (l *Logger) LockTimeout(ctx context.Context, wait time.Duration, err error) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Warn("session lock timeout", append(logging.ContextFields(ctx),
		zap.String("fault", string(session.FaultLockTimeout)),
		zap.Duration("wait", wait),
		zap.Error(err),
	)...)
}

// Fault logs a turn that failed after the session was loaded.
func (l *Logger) Fault(ctx context.Context, kind session.FaultKind, err error) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Error("turn failed", append(logging.ContextFields(ctx),
		zap.String("fault", string(kind)),
		zap.Error(err),
	)...)
}

// Abandoned logs a turn dropped at its deadline before commit.
func (l *Logger) Abandoned(ctx context.Context, err error) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Warn("turn abandoned before commit", append(logging.ContextFields(ctx), zap.Error(err))...)
}

// Recovered logs an error -> active transition.
func (l *Logger) Recovered(ctx context.Context, from session.FaultKind) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info("session recovered", append(logging.ContextFields(ctx), zap.String("recovered_fault", string(from)))...)
}

// Completed logs a flow completion.
func (l *Logger) Completed(ctx context.Context, completionID, legalArea string, messages int) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info("flow completed", append(logging.ContextFields(ctx),
		zap.String("completion_id", completionID),
		zap.String("legal_area", legalArea),
		zap.Int("message_count", messages),
	)...)
}

// HandoffFailed logs a completed lead that could not be archived or queued.
// The session stays completed.
func (l *Logger) HandoffFailed(ctx context.Context, target string, err error) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Error("lead handoff failed", append(logging.ContextFields(ctx),
		zap.String("target", target),
		zap.String("fault", string(session.FaultNotificationFailure)),
		zap.Error(err),
	)...)
}

// SessionReset logs an explicit restart.
func (l *Logger) SessionReset(ctx context.Context) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info("session reset", logging.ContextFields(ctx)...)
}

// Debug logs a debug message with context.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Debug(msg, append(logging.ContextFields(ctx), fields...)...)
}
