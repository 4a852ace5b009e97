package extraction

import (
	"context"
	"errors"
	"fmt"
)

// Field names.
const (
	FieldName      = "name"
	FieldPhone     = "phone"
	FieldEmail     = "email"
	FieldLegalArea = "legal_area"
	FieldUrgency   = "urgency_level"
	FieldSituation = "situation"
)

// Field is one extracted value.
type Field struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Fields maps field name to value.
type Fields map[string]Field

// Has reports whether name holds a non-empty value.
func (f Fields) Has(name string) bool {
	return f[name].Value != ""
}

// Result is the output of one extraction.
type Result struct {
	Fields          Fields
	ConfidenceDelta float64
}

// Extractor extracts lead fields from one message.
type Extractor interface {
	Extract(ctx context.Context, text string, prior Fields) (Result, error)
}

// Func adapts a function to Extractor.
type Func func(ctx context.Context, text string, prior Fields) (Result, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, text string, prior Fields) (Result, error) {
	return f(ctx, text, prior)
}

// ErrExtractionFailed is the parent of every extraction error.
var ErrExtractionFailed = errors.New("extraction failed")

// Input errors.
var (
	ErrEmptyText   = fmt.Errorf("%w: empty text", ErrExtractionFailed)
	ErrInvalidUTF8 = fmt.Errorf("%w: text is not valid UTF-8", ErrExtractionFailed)
	ErrTextTooLong = fmt.Errorf("%w: text exceeds maximum length", ErrExtractionFailed)
)
