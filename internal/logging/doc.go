// Package logging provides structured logging for leadflow on top of Zap.
//
// The Logger adds correlation fields carried in the context (trace and span
// ids from OpenTelemetry, session id, correlation id, request id) to every
// entry, masks lead PII (phone numbers, e-mail addresses) and redacts secrets
// before anything is encoded, and samples chatty levels while never sampling
// errors.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	ctx = logging.WithSessionID(ctx, "web_1718000000_ab12cd34")
//	ctx = logging.WithCorrelationID(ctx, correlationID)
//	logger.Info(ctx, "turn processed", zap.String("response_type", "web_intelligent"))
//
// Tests use NewTestLogger, which records entries in memory.
package logging
