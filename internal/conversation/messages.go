package conversation

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/leadflow/internal/extraction"
	"github.com/fyrsmithlabs/leadflow/internal/session"
)

const notInformed = "Não informado"

// greeting picks the time-of-day greeting at now in loc: morning from 05h,
// afternoon from 12h, evening from 18h.
func greeting(g Greetings, now time.Time, loc *time.Location) string {
	if loc != nil {
		now = now.In(loc)
	}
	switch h := now.Hour(); {
	case h >= 5 && h < 12:
		return g.Morning
	case h >= 12 && h < 18:
		return g.Afternoon
	default:
		return g.Evening
	}
}

// firstName returns the first word of the captured name.
func firstName(s *session.Session) string {
	if f := strings.Fields(s.Value(extraction.FieldName)); len(f) > 0 {
		return f[0]
	}
	return ""
}

// render fills a template from the session. Placeholders with no data render
// as a neutral default.
func render(tmpl string, s *session.Session) string {
	name := firstName(s)
	if name == "" {
		name = "Cliente"
	}
	r := strings.NewReplacer(
		"{name}", name,
		"{name_full}", orDefault(s.Value(extraction.FieldName), notInformed),
		"{area}", orDefault(s.Value(extraction.FieldLegalArea), "sua área jurídica"),
		"{phone}", orDefault(s.Value(extraction.FieldPhone), notInformed),
		"{email}", orDefault(s.Value(extraction.FieldEmail), notInformed),
		"{situation}", orDefault(s.Value(extraction.FieldSituation), notInformed),
		"{urgency}", orDefault(s.Value(extraction.FieldUrgency), notInformed),
	)
	return r.Replace(tmpl)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// nextPrompt asks for the first missing required field, or for more details
// when all are present.
func (e *Engine) nextPrompt(s *session.Session) string {
	for _, field := range e.cfg.RequiredFields {
		if !s.Has(field) {
			return render(e.texts().question(field), s)
		}
	}
	return render(e.texts().MoreDetails, s)
}

// welcomeText is the Start greeting followed by the next question.
func (e *Engine) welcomeText(s *session.Session) string {
	f := e.texts()
	hello := strings.ReplaceAll(f.Welcome, "{greeting}", greeting(f.Greetings, e.now(), e.cfg.Location))
	return render(hello, s) + "\n\n" + e.nextPrompt(s)
}
