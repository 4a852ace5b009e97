// Package redact removes personal data and credentials from free text
// before it is stored or logged: sink error bodies, fault messages and
// anything else that may echo what a visitor typed.
//
// Structured log fields are masked by key in internal/logging. This package
// covers the values whose keys say nothing, such as an error string.
package redact

import (
	"cmp"
	"slices"
	"strings"
)

// Result reports what Scrub changed. Matched values are never kept.
type Result struct {
	Text     string
	Findings int
	ByRule   map[string]int
}

// Scrubber redacts text with a compiled Config. It is safe for concurrent
// use.
type Scrubber struct {
	config *Config
}

type span struct {
	start, end int
}

// New compiles cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scrubber{config: cfg}, nil
}

// MustNew is New that panics on an invalid configuration.
func MustNew(cfg *Config) *Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Redact returns text with every finding replaced.
func (s *Scrubber) Redact(text string) string {
	return s.Scrub(text).Text
}

// Scrub redacts text and counts findings per rule.
func (s *Scrubber) Scrub(text string) Result {
	res := Result{Text: text, ByRule: map[string]int{}}
	if s == nil || !s.config.Enabled || text == "" {
		return res
	}

	var spans []span
	for _, rule := range s.config.compiledRules {
		if !rule.applies(text) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			res.ByRule[rule.ID]++
			res.Findings++
		}
	}
	if len(spans) == 0 {
		return res
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, sp := range merge(spans) {
		b.WriteString(text[last:sp.start])
		b.WriteString(s.config.Replacement)
		last = sp.end
	}
	b.WriteString(text[last:])
	res.Text = b.String()
	return res
}

// Enabled reports whether the scrubber changes anything.
func (s *Scrubber) Enabled() bool {
	return s != nil && s.config.Enabled
}

func (r *compiledRule) applies(text string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(text) {
			return true
		}
	}
	return false
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.config.compiledAllowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// merge sorts spans and joins overlapping or touching ones.
func merge(spans []span) []span {
	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })
	out := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &out[len(out)-1]
		if cur.start <= last.end {
			last.end = max(last.end, cur.end)
			continue
		}
		out = append(out, cur)
	}
	return out
}
