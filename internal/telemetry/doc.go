// Package telemetry wires OpenTelemetry tracing and metrics for leadflow.
//
// Spans and metrics are exported over OTLP (gRPC by default, or
// http/protobuf) to a collector. When telemetry is disabled the package hands
// out the global no-op providers, so instrumented code never branches on it.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	defer tel.Shutdown(ctx)
//	tracer := tel.Tracer("leadflow.conversation")
//
// A signal whose exporter cannot be built is skipped and listed by Problems.
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
