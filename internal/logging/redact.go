// internal/logging/redact.go
package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/leadflow/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// Secret creates a field for config.Secret showing only its length.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString creates a field with the value replaced by its length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// MaskPhone keeps the last four digits of a phone number.
func MaskPhone(phone string) string {
	digits := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return redacted
	}
	return email[:1] + "***" + email[at:]
}

// maskPII masks a value of a PII key, choosing the shape by content.
func maskPII(val string) string {
	if strings.Contains(val, "@") {
		return MaskEmail(val)
	}
	return MaskPhone(val)
}

// RedactingCore rewrites fields before they reach any output.
type RedactingCore struct {
	zapcore.Core
	secretKeys map[string]bool
	piiKeys    map[string]bool
	patterns   []*regexp.Regexp
}

// NewRedactingCore wraps core with redaction rules. A disabled config returns
// core unchanged.
func NewRedactingCore(core zapcore.Core, cfg RedactionConfig) (zapcore.Core, error) {
	if !cfg.Enabled {
		return core, nil
	}

	rc := &RedactingCore{
		Core:       core,
		secretKeys: make(map[string]bool, len(cfg.Fields)),
		piiKeys:    make(map[string]bool, len(cfg.PIIFields)),
	}
	for _, f := range cfg.Fields {
		rc.secretKeys[strings.ToLower(f)] = true
	}
	for _, f := range cfg.PIIFields {
		rc.piiKeys[strings.ToLower(f)] = true
	}
	for _, p := range cfg.Patterns {
		if len(p) > 200 {
			return nil, fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		rc.patterns = append(rc.patterns, re)
	}
	return rc, nil
}

// With redacts constant fields as they are attached.
func (c *RedactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &RedactingCore{
		Core:       c.Core.With(c.redact(fields)),
		secretKeys: c.secretKeys,
		piiKeys:    c.piiKeys,
		patterns:   c.patterns,
	}
}

func (c *RedactingCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *RedactingCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(e, c.redact(fields))
}

func (c *RedactingCore) redact(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = c.redactField(f)
	}
	return out
}

func (c *RedactingCore) redactField(f zapcore.Field) zapcore.Field {
	key := strings.ToLower(f.Key)
	switch {
	case c.secretKeys[key]:
		return zap.String(f.Key, redacted)
	case c.piiKeys[key] && f.Type == zapcore.StringType:
		return zap.String(f.Key, maskPII(f.String))
	case c.piiKeys[key]:
		return zap.String(f.Key, redacted)
	case f.Type == zapcore.StringType:
		for _, re := range c.patterns {
			if re.MatchString(f.String) {
				return zap.String(f.Key, "[REDACTED:pattern]")
			}
		}
	}
	return f
}
