package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/leadflow/internal/conversation"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/leadflow/internal/http"

// responseTypeKey carries the chat response type from a handler to the
// metrics middleware. Chat routes always answer 200, so the status code
// alone says nothing about the outcome.
const responseTypeKey = "leadflow.response_type"

// HTTPMetrics holds the request instruments.
type HTTPMetrics struct {
	logger        *zap.Logger
	requests      metric.Int64Counter
	duration      metric.Float64Histogram
	inFlight      metric.Int64UpDownCounter
	chatResponses metric.Int64Counter
}

// NewHTTPMetrics creates HTTP instruments. A nil meter uses the global
// meter provider.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	m := &HTTPMetrics{logger: logger}

	var err error
	if m.requests, err = meter.Int64Counter(
		"leadflow.http.requests_total",
		metric.WithDescription("HTTP requests by method, route template and status"),
		metric.WithUnit("{request}"),
	); err != nil {
		m.warn("requests_total", err)
	}
	if m.duration, err = meter.Float64Histogram(
		"leadflow.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route template and status"),
		metric.WithUnit("s"),
		// Turns are bounded by the 5s business and 10s request timeouts.
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10),
	); err != nil {
		m.warn("request_duration_seconds", err)
	}
	if m.inFlight, err = meter.Int64UpDownCounter(
		"leadflow.http.active_requests",
		metric.WithDescription("HTTP requests being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		m.warn("active_requests", err)
	}
	if m.chatResponses, err = meter.Int64Counter(
		"leadflow.http.chat_responses_total",
		metric.WithDescription("Chat route answers by route template and response_type"),
		metric.WithUnit("{response}"),
	); err != nil {
		m.warn("chat_responses_total", err)
	}
	return m
}

func (m *HTTPMetrics) warn(name string, err error) {
	m.logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			endpoint := normalizePath(c.Path())
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", endpoint),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if rt, ok := c.Get(responseTypeKey).(conversation.ResponseType); ok && m.chatResponses != nil {
				m.chatResponses.Add(ctx, 1, metric.WithAttributes(
					attribute.String("endpoint", endpoint),
					attribute.String("response_type", string(rt)),
				))
			}
			return err
		}
	}
}

// chat writes a chat-shaped 200 and tags the request with its response type.
func chat(c echo.Context, resp conversation.Response) error {
	c.Set(responseTypeKey, resp.ResponseType)
	return c.JSON(http.StatusOK, resp)
}

// normalizePath maps the matched route template to a metric label. Routes
// are registered with :params, so ids never reach a label; unmatched
// requests share one.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
