package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/leadflow/internal/conversation"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func metricsEcho(t *testing.T) (*echo.Echo, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewHTTPMetrics(mp.Meter(httpInstrumentationName), zap.NewNop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/conversation/status/:session_id", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
	})
	e.POST("/api/v1/conversation/respond", func(c echo.Context) error {
		rt := conversation.ResponseType(c.QueryParam("rt"))
		return chat(c, conversation.Response{ResponseType: rt})
	})
	return e, reader
}

func serve(e *echo.Echo, method, target string) int {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec.Code
}

func TestHTTPMetrics_RequestsAndDuration(t *testing.T) {
	e, reader := metricsEcho(t)

	serve(e, http.MethodGet, "/health")
	assert.Equal(t, http.StatusNotFound, serve(e, http.MethodGet, "/api/v1/conversation/status/web_1_abcd1234"))
	serve(e, http.MethodGet, "/nowhere")

	data := collect(t, reader)

	sum, ok := data["leadflow.http.requests_total"].(metricdata.Sum[int64])
	require.True(t, ok, "requests_total missing")
	var total int64
	endpoints := map[string]bool{}
	for _, dp := range sum.DataPoints {
		total += dp.Value
		v, _ := dp.Attributes.Value("endpoint")
		endpoints[v.AsString()] = true
		assert.False(t, strings.Contains(v.AsString(), "web_1_"), "session id leaked into endpoint label: %s", v.AsString())
	}
	assert.EqualValues(t, 3, total)
	assert.True(t, endpoints["/api/v1/conversation/status/:session_id"])
	assert.True(t, endpoints["/health"])

	hist, ok := data["leadflow.http.request_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok, "request_duration_seconds missing")
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.EqualValues(t, 3, count)

	active, ok := data["leadflow.http.active_requests"].(metricdata.Sum[int64])
	require.True(t, ok, "active_requests missing")
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value)
	}

	_, ok = data["leadflow.http.chat_responses_total"]
	assert.False(t, ok, "non-chat routes must not record chat responses")
}

func TestHTTPMetrics_ChatResponsesByType(t *testing.T) {
	e, reader := metricsEcho(t)

	for _, rt := range []string{"web_intelligent", "web_intelligent", "rate_limited", "system_error"} {
		assert.Equal(t, http.StatusOK, serve(e, http.MethodPost, "/api/v1/conversation/respond?rt="+rt))
	}

	sum, ok := collect(t, reader)["leadflow.http.chat_responses_total"].(metricdata.Sum[int64])
	require.True(t, ok, "chat_responses_total missing")

	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("response_type")
		got[v.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"web_intelligent": 2, "rate_limited": 1, "system_error": 1}, got)
}

func TestNewHTTPMetrics_NilArgs(t *testing.T) {
	m := NewHTTPMetrics(nil, nil)
	require.NotNil(t, m)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/health"))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/conversation/respond", "/api/v1/conversation/respond"},
		{"/api/v1/conversation/status/:session_id", "/api/v1/conversation/status/:session_id"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}
