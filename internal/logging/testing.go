// internal/logging/testing.go
package logging

import (
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry for assertions in tests.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates an observing logger at trace level. Redaction uses
// the default rules so tests see what production would write.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	cfg := NewDefaultConfig()
	redacting, err := NewRedactingCore(core, cfg.Redaction)
	if err != nil {
		panic(err)
	}
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(redacting), config: cfg},
		observed: observed,
	}
}

// All returns all logged entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries matching message substring.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// Reset clears all logged entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// AssertLogged fails unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, got %d entries", level, msg, t.observed.Len())
}

// AssertNotLogged fails if an entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			tb.Errorf("unexpected log at %v containing %q", level, msg)
		}
	}
}

// AssertField fails unless an entry containing msg carries key=expected.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessageSnippet(msg).All() {
		if v, ok := e.ContextMap()[key]; ok && v == expected {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}

var rawPhone = regexp.MustCompile(`\b55\d{10,11}\b`)

// AssertNoPII fails if any string field still holds a full phone number or
// an unmasked email address.
func (t *TestLogger) AssertNoPII(tb testing.TB) {
	tb.Helper()
	for _, e := range t.observed.All() {
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			if rawPhone.MatchString(f.String) {
				tb.Errorf("phone number in field %q of %q", f.Key, e.Message)
			}
			if at := strings.Index(f.String, "@"); at > 1 && !strings.Contains(f.String, "***") {
				tb.Errorf("email address in field %q of %q", f.Key, e.Message)
			}
		}
	}
}
