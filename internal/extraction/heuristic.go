package extraction

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Per-field confidence assigned by Heuristic.
const (
	confidenceIntroducedName = 0.9
	confidenceBareName       = 0.6
	confidencePhone          = 0.95
	confidenceEmail          = 0.95
	confidenceArea           = 0.8
	confidenceUrgency        = 0.7
	confidenceSituation      = 0.5
)

var (
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern     = regexp.MustCompile(`\+?\(?\d[\d\s().-]{8,}\d`)
	nameWordsPattern = regexp.MustCompile(`^\s*([\p{L}'-]+(?:\s+[\p{L}'-]+){0,5})`)
	bareNamePattern  = regexp.MustCompile(`^[\p{L}'-]+(?:\s+[\p{L}'-]+){1,3}$`)
)

// Heuristic extracts fields with regular expressions and keyword tables.
type Heuristic struct {
	rules       Rules
	introducer  *regexp.Regexp
	stopWords   map[string]bool
	areaKeys    []string
	nonNameWord map[string]bool
}

// NewHeuristic compiles rules into an extractor.
func NewHeuristic(rules Rules) (*Heuristic, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction rules: %w", err)
	}
	if len(rules.NameIntroducers) == 0 {
		return nil, fmt.Errorf("invalid extraction rules: no name introducers")
	}

	quoted := make([]string, len(rules.NameIntroducers))
	for i, intro := range rules.NameIntroducers {
		quoted[i] = regexp.QuoteMeta(intro)
		// "sou a" must not match the start of "sou advogada".
		if r, _ := utf8.DecodeLastRuneInString(intro); unicode.IsLetter(r) {
			quoted[i] += `(?:$|[^\p{L}])`
		}
	}
	introducer, err := regexp.Compile(`(?i)(?:^|[^\p{L}])(?:` + strings.Join(quoted, "|") + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile name introducers: %w", err)
	}

	h := &Heuristic{
		rules:       rules,
		introducer:  introducer,
		stopWords:   make(map[string]bool, len(rules.NameStopWords)),
		nonNameWord: make(map[string]bool),
	}
	for _, w := range rules.NameStopWords {
		h.stopWords[strings.ToLower(w)] = true
		h.nonNameWord[strings.ToLower(w)] = true
	}
	for k := range rules.AreaKeywords {
		h.areaKeys = append(h.areaKeys, k)
		h.nonNameWord[strings.ToLower(k)] = true
	}
	for _, w := range append(slices.Clone(rules.HighUrgency), rules.LowUrgency...) {
		for _, f := range strings.Fields(w) {
			h.nonNameWord[f] = true
		}
	}
	// Longest keyword first so "liminares" wins over "liminar".
	slices.SortFunc(h.areaKeys, func(a, b string) int {
		if d := len(b) - len(a); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return h, nil
}

// Extract implements Extractor.
func (h *Heuristic) Extract(ctx context.Context, text string, prior Fields) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	if err := h.validate(text); err != nil {
		return Result{}, err
	}

	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	found := make(Fields)

	if email := emailPattern.FindString(text); email != "" {
		found[FieldEmail] = Field{Value: strings.ToLower(email), Confidence: confidenceEmail}
	}
	if phone, ok := findPhone(emailPattern.ReplaceAllString(text, " ")); ok {
		found[FieldPhone] = Field{Value: phone, Confidence: confidencePhone}
	}
	if name, ok := h.introducedName(text); ok {
		found[FieldName] = Field{Value: name, Confidence: confidenceIntroducedName}
	}
	if area, ok := h.legalArea(lower); ok {
		found[FieldLegalArea] = Field{Value: area, Confidence: confidenceArea}
	}
	if urgency, ok := h.urgency(lower); ok {
		found[FieldUrgency] = Field{Value: urgency, Confidence: confidenceUrgency}
	}

	if len(found) == 0 && !prior.Has(FieldName) {
		if name, ok := h.bareName(text); ok {
			found[FieldName] = Field{Value: name, Confidence: confidenceBareName}
		}
	}
	if len(found) == 0 && prior.Has(FieldName) && !prior.Has(FieldSituation) &&
		utf8.RuneCountInString(text) >= h.rules.MinSituationLength {
		found[FieldSituation] = Field{Value: text, Confidence: confidenceSituation}
	}

	return Result{Fields: found, ConfidenceDelta: h.delta(found, prior)}, nil
}

func (h *Heuristic) validate(text string) error {
	if !utf8.ValidString(text) {
		return ErrInvalidUTF8
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if len(text) > h.rules.MaxLength {
		return fmt.Errorf("%w: %d > %d bytes", ErrTextTooLong, len(text), h.rules.MaxLength)
	}
	return nil
}

// delta sums the weights of fields that prior did not already hold.
func (h *Heuristic) delta(found, prior Fields) float64 {
	var d float64
	for name, f := range found {
		if f.Value != "" && !prior.Has(name) {
			d += h.rules.Weights[name]
		}
	}
	return d
}

func (h *Heuristic) introducedName(text string) (string, bool) {
	loc := h.introducer.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	m := nameWordsPattern.FindStringSubmatch(text[loc[1]:])
	if m == nil {
		return "", false
	}

	var words []string
	for _, w := range strings.Fields(m[1]) {
		if h.stopWords[strings.ToLower(w)] {
			break
		}
		words = append(words, w)
	}
	if len(words) == 0 {
		return "", false
	}
	return titleCase(words), true
}

func (h *Heuristic) bareName(text string) (string, bool) {
	if !bareNamePattern.MatchString(text) {
		return "", false
	}
	words := strings.Fields(text)
	for _, w := range words {
		if h.nonNameWord[strings.ToLower(w)] {
			return "", false
		}
	}
	return titleCase(words), true
}

func (h *Heuristic) legalArea(lower string) (string, bool) {
	for _, k := range h.areaKeys {
		if strings.Contains(lower, k) {
			return h.rules.AreaKeywords[k], true
		}
	}
	return "", false
}

func (h *Heuristic) urgency(lower string) (string, bool) {
	for _, k := range h.rules.LowUrgency {
		if strings.Contains(lower, k) {
			return "baixa", true
		}
	}
	for _, k := range h.rules.HighUrgency {
		if containsWord(lower, k) {
			return "alta", true
		}
	}
	return "", false
}

// findPhone returns the first digit run that is a valid Brazilian number,
// normalized to start with the 55 country code.
func findPhone(text string) (string, bool) {
	for _, candidate := range phonePattern.FindAllString(text, -1) {
		if phone, ok := NormalizePhone(candidate); ok {
			return phone, true
		}
	}
	return "", false
}

// NormalizePhone keeps the digits of s and validates them: 10 or 11 digits
// get the 55 prefix, 12 or 13 digits must already carry it.
func NormalizePhone(s string) (string, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	switch len(digits) {
	case 10, 11:
		return "55" + digits, true
	case 12, 13:
		if strings.HasPrefix(digits, "55") {
			return digits, true
		}
	}
	return "", false
}

func containsWord(text, word string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (start == 0 || !unicode.IsLetter(before)) && (end == len(text) || !unicode.IsLetter(after)) {
			return true
		}
		i = start + 1
	}
}

func titleCase(words []string) string {
	out := make([]string, len(words))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		out[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(out, " ")
}
