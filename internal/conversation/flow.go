package conversation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/leadflow/internal/extraction"
)

// maxFlowFileSize caps flow files read from disk.
const maxFlowFileSize = 256 << 10

// Flow holds every text the engine sends. Templates may use {name} (first
// name), {area} (legal area) and {greeting}.
type Flow struct {
	Greetings Greetings `yaml:"greetings"`
	// Welcome follows the greeting on Start.
	Welcome string `yaml:"welcome"`
	// Questions asks for each missing field, keyed by field name.
	Questions map[string]string `yaml:"questions"`
	// MoreDetails is sent when every required field is present but the
	// score has not reached 1.0.
	MoreDetails string `yaml:"more_details"`
	Completion  string `yaml:"completion"`
	RateLimited string `yaml:"rate_limited"`
	SystemError string `yaml:"system_error"`
	// Recovered prefixes the next question after an error was recovered.
	Recovered string `yaml:"recovered"`
	// Busy answers a message that could not get the session lock while the
	// session carries an earlier error.
	Busy        string `yaml:"busy"`
	LeadSummary string `yaml:"lead_summary"`
	WelcomeLead string `yaml:"welcome_lead"`
}

// Greetings by time of day.
type Greetings struct {
	Morning   string `yaml:"morning"`
	Afternoon string `yaml:"afternoon"`
	Evening   string `yaml:"evening"`
}

// DefaultFlow returns the shipped Portuguese texts.
func DefaultFlow() Flow {
	return Flow{
		Greetings: Greetings{Morning: "Bom dia", Afternoon: "Boa tarde", Evening: "Boa noite"},
		Welcome: "{greeting}! Bem-vindo ao m.lima. Estou aqui para entender seu caso e agilizar " +
			"o contato com um de nossos advogados especializados.",
		Questions: map[string]string{
			extraction.FieldName:      "Para começar, qual é o seu nome completo?",
			extraction.FieldPhone:     "Obrigado, {name}! Qual é o seu número de WhatsApp com DDD?",
			extraction.FieldLegalArea: "Certo, {name}. Em qual área jurídica você precisa de ajuda? (penal, saúde/liminares, trabalhista, família...)",
			extraction.FieldEmail:     "{name}, qual é o seu e-mail?",
			extraction.FieldSituation: "{name}, pode me contar brevemente a sua situação?",
		},
		MoreDetails: "{name}, pode me contar um pouco mais sobre a sua situação?",
		Completion: "Perfeito, {name}! Suas informações sobre {area} foram registradas. " +
			"Nossa equipe entrará em contato pelo WhatsApp em breve. Obrigado!",
		RateLimited: "⏳ Muitas mensagens em pouco tempo. Aguarde um momento...",
		SystemError: "Desculpe, ocorreu um erro. Vamos tentar novamente?",
		Recovered:   "Desculpe pelo problema, vamos continuar de onde paramos.",
		Busy:        "Ainda estou processando sua mensagem anterior. Aguarde um instante e tente novamente.",
		LeadSummary: "Lead Qualificado:\nNome: {name_full}\nContato: {email}\nÁrea: {area}\n" +
			"Situação: {situation}\nUrgência: {urgency}\nWhatsApp: {phone}\n\n✅ Pronto para atendimento",
		WelcomeLead: "Olá {name}! 👋\n\nSuas informações foram registradas com sucesso no m.lima.\n\n" +
			"📋 Resumo:\n• Área: {area}\n• Status: Em análise\n\n" +
			"Nossa equipe especializada entrará em contato em breve para dar continuidade ao seu caso.\n\n" +
			"Obrigado pela confiança! 🤝",
	}
}

// LoadFlow reads a YAML flow file. Keys it leaves out keep their defaults.
func LoadFlow(path string) (Flow, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Flow{}, fmt.Errorf("stat flow file: %w", err)
	}
	if info.Size() > maxFlowFileSize {
		return Flow{}, fmt.Errorf("flow file %s exceeds %d bytes", path, maxFlowFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Flow{}, fmt.Errorf("read flow file: %w", err)
	}
	return ParseFlow(data)
}

// ParseFlow decodes YAML over DefaultFlow.
func ParseFlow(data []byte) (Flow, error) {
	f := DefaultFlow()
	questions := f.Questions
	f.Questions = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Flow{}, fmt.Errorf("parse flow: %w", err)
	}

	for field, q := range f.Questions {
		questions[field] = q
	}
	f.Questions = questions

	if err := f.Validate(); err != nil {
		return Flow{}, err
	}
	return f, nil
}

// Validate checks that the engine has a text for every situation.
func (f Flow) Validate() error {
	var errs []error
	required := map[string]string{
		"greetings.morning":   f.Greetings.Morning,
		"greetings.afternoon": f.Greetings.Afternoon,
		"greetings.evening":   f.Greetings.Evening,
		"welcome":             f.Welcome,
		"more_details":        f.MoreDetails,
		"completion":          f.Completion,
		"rate_limited":        f.RateLimited,
		"system_error":        f.SystemError,
		"recovered":           f.Recovered,
		"busy":                f.Busy,
	}
	for key, text := range required {
		if strings.TrimSpace(text) == "" {
			errs = append(errs, fmt.Errorf("flow: %s must not be empty", key))
		}
	}
	if strings.TrimSpace(f.Questions[extraction.FieldName]) == "" {
		errs = append(errs, errors.New("flow: questions.name must not be empty"))
	}
	return errors.Join(errs...)
}

// question returns the prompt for field, falling back to MoreDetails.
func (f Flow) question(field string) string {
	if q := f.Questions[field]; q != "" {
		return q
	}
	return f.MoreDetails
}
