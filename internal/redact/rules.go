package redact

// DefaultRules covers the personal data a lead conversation carries and the
// credentials a notification gateway may echo back in an error body.
func DefaultRules() []Rule {
	return []Rule{
		// Personal data
		{
			ID:          "email",
			Description: "Email address",
			Pattern:     `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
			Keywords:    []string{"@"},
		},
		{
			ID:          "cpf",
			Description: "Brazilian CPF",
			Pattern:     `\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`,
		},
		{
			ID:          "cnpj",
			Description: "Brazilian CNPJ",
			Pattern:     `\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b`,
		},
		{
			// Runs of 10 to 13 digits, optionally with +55, area code in
			// parentheses, spaces, dots and dashes between groups.
			ID:          "phone",
			Description: "Phone number",
			Pattern:     `\+?\(?\d[\d\s().-]{8,15}\d`,
		},

		// Credentials
		{
			ID:          "bearer-token",
			Description: "Bearer token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{16,}`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "api-key",
			Description: "API key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey|token|secret|password)['"]?\s*[:=]\s*['"]?[^\s'",}]{8,}['"]?`,
			Keywords:    []string{"key", "token", "secret", "password"},
		},
		{
			ID:          "database-url",
			Description: "Connection string with credentials",
			Pattern:     `(?i)(?:postgres(?:ql)?|redis|nats)://[^:\s/]+:[^@\s]+@[^\s]+`,
			Keywords:    []string{"://"},
		},
	}
}
