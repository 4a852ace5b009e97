package extraction

import (
	"fmt"
	"maps"
)

// DefaultMaxLength caps message size in bytes.
const DefaultMaxLength = 4000

// Rules is the data behind Heuristic.
type Rules struct {
	// NameIntroducers precede a name ("meu nome é João"). Matched
	// case-insensitively.
	NameIntroducers []string
	// NameStopWords end a name captured after an introducer.
	NameStopWords []string
	// AreaKeywords maps a lower-case keyword to the canonical legal area.
	AreaKeywords map[string]string
	// HighUrgency and LowUrgency are lower-case phrases. Low is checked
	// first so negations like "não é urgente" win.
	HighUrgency []string
	LowUrgency  []string
	// Weights is the confidence contributed by a newly present field.
	Weights map[string]float64
	// MaxLength bounds message size in bytes.
	MaxLength int
	// MinSituationLength is the minimum rune count of a situation reply.
	MinSituationLength int
}

// DefaultRules returns the shipped Portuguese rule set. Name, phone and legal
// area weigh 0.375, 0.375 and 0.25: all binary fractions, so the three sum to
// exactly 1.0.
func DefaultRules() Rules {
	return Rules{
		NameIntroducers: []string{"meu nome é", "meu nome e", "me chamo", "sou o", "sou a", "nome:"},
		NameStopWords: []string{
			"e", "meu", "minha", "telefone", "tel", "celular", "whatsapp", "zap",
			"email", "e-mail", "com", "tenho", "preciso", "moro", "sou", "aqui", "meus",
		},
		AreaKeywords: map[string]string{
			"penal":          "Direito Penal",
			"criminal":       "Direito Penal",
			"crime":          "Direito Penal",
			"saude":          "Saúde/Liminares",
			"saúde":          "Saúde/Liminares",
			"liminar":        "Saúde/Liminares",
			"liminares":      "Saúde/Liminares",
			"medica":         "Saúde/Liminares",
			"médica":         "Saúde/Liminares",
			"trabalhista":    "Direito Trabalhista",
			"trabalho":       "Direito Trabalhista",
			"familia":        "Direito de Família",
			"família":        "Direito de Família",
			"divórcio":       "Direito de Família",
			"divorcio":       "Direito de Família",
			"consumidor":     "Direito do Consumidor",
			"previdenciário": "Direito Previdenciário",
			"previdenciario": "Direito Previdenciário",
			"aposentadoria":  "Direito Previdenciário",
			"inss":           "Direito Previdenciário",
		},
		HighUrgency: []string{
			"urgente", "urgência", "urgencia", "emergência", "emergencia",
			"imediato", "imediatamente", "hoje", "preso", "presa", "prisão", "prisao", "flagrante",
		},
		LowUrgency: []string{"não é urgente", "nao e urgente", "sem pressa", "quando puder", "tranquilo"},
		Weights: map[string]float64{
			FieldName:      0.375,
			FieldPhone:     0.375,
			FieldLegalArea: 0.25,
		},
		MaxLength:          DefaultMaxLength,
		MinSituationLength: 10,
	}
}

// Merge overlays non-empty settings from config onto r.
func (r Rules) Merge(weights map[string]float64, areas map[string]string, maxLength int) Rules {
	if len(weights) > 0 {
		r.Weights = maps.Clone(r.Weights)
		maps.Copy(r.Weights, weights)
	}
	if len(areas) > 0 {
		r.AreaKeywords = maps.Clone(r.AreaKeywords)
		maps.Copy(r.AreaKeywords, areas)
	}
	if maxLength > 0 {
		r.MaxLength = maxLength
	}
	return r
}

// Validate checks the rule set.
func (r Rules) Validate() error {
	if r.MaxLength <= 0 {
		return fmt.Errorf("max length must be positive, got %d", r.MaxLength)
	}
	var total float64
	for field, w := range r.Weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("weight for %q must be in [0,1], got %v", field, w)
		}
		total += w
	}
	if total < 1 {
		return fmt.Errorf("weights sum to %v; completion needs at least 1.0", total)
	}
	return nil
}
