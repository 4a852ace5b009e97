// Package config provides configuration loading for leadflow.
//
// Configuration is read from a YAML file and overridden by LEADFLOW_*
// environment variables. Every section has defaults, so an empty file (or no
// file) yields a runnable single-instance setup backed by in-memory stores.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
	_ "time/tzdata" // engine.timezone must resolve on hosts without zoneinfo
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Notification sinks.
const (
	SinkWhatsApp = "whatsapp"
	SinkNATS     = "nats"
	SinkLog      = "log"
)

// Merge policies for re-extracted fields.
const (
	MergeGreaterOrEqual  = "greater_or_equal"
	MergeStrictlyGreater = "strictly_greater"
)

var lawyerNumber = regexp.MustCompile(`^\+?\d{10,15}$`)

// Config holds the complete leadflow configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Session    SessionConfig    `koanf:"session"`
	Redis      RedisConfig      `koanf:"redis"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	Engine     EngineConfig     `koanf:"engine"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Notify     NotifyConfig     `koanf:"notify"`
	Archive    ArchiveConfig    `koanf:"archive"`
	Redaction  RedactionConfig  `koanf:"redaction"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	RequestTimeout  Duration `koanf:"request_timeout"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SessionConfig controls session storage, TTL eviction and locking.
type SessionConfig struct {
	Store         string   `koanf:"store"`
	IdleTTL       Duration `koanf:"idle_ttl"`
	SweepInterval Duration `koanf:"sweep_interval"`
	LockTimeout   Duration `koanf:"lock_timeout"`
}

// RedisConfig is shared by the Redis session store and rate limiter.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  Secret `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// RateLimitConfig controls the per-session sliding window.
type RateLimitConfig struct {
	Backend     string   `koanf:"backend"`
	Window      Duration `koanf:"window"`
	MaxMessages int      `koanf:"max_messages"`
	RetryAfter  Duration `koanf:"retry_after"`
}

// EngineConfig controls the conversation engine.
type EngineConfig struct {
	TurnTimeout    Duration `koanf:"turn_timeout"`
	RequiredFields []string `koanf:"required_fields"`
	MergePolicy    string   `koanf:"merge_policy"`
	Timezone       string   `koanf:"timezone"`
	FlowFile       string   `koanf:"flow_file"`
}

// ExtractionConfig parameterizes the default heuristic extractor.
type ExtractionConfig struct {
	MaxMessageLength int                `koanf:"max_message_length"`
	Weights          map[string]float64 `koanf:"weights"`
	AreaKeywords     map[string]string  `koanf:"area_keywords"`
}

// NotifyConfig controls completion notification delivery.
type NotifyConfig struct {
	Sink           string         `koanf:"sink"`
	Workers        int            `koanf:"workers"`
	QueueSize      int            `koanf:"queue_size"`
	AttemptTimeout Duration       `koanf:"attempt_timeout"`
	SendRate       float64        `koanf:"send_rate"`
	SendBurst      int            `koanf:"send_burst"`
	HistorySize    int            `koanf:"history_size"`
	Retry          RetryConfig    `koanf:"retry"`
	Breaker        BreakerConfig  `koanf:"breaker"`
	WhatsApp       WhatsAppConfig `koanf:"whatsapp"`
	NATS           NATSConfig     `koanf:"nats"`
}

// RetryConfig is the exponential backoff policy.
type RetryConfig struct {
	MaxAttempts    int      `koanf:"max_attempts"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
	Multiplier     float64  `koanf:"multiplier"`
}

// BreakerConfig is the sink circuit breaker policy.
type BreakerConfig struct {
	Threshold int      `koanf:"threshold"`
	Window    Duration `koanf:"window"`
	Cooldown  Duration `koanf:"cooldown"`
}

// WhatsAppConfig points at a Baileys-compatible gateway.
type WhatsAppConfig struct {
	BaseURL string   `koanf:"base_url"`
	APIKey  Secret   `koanf:"api_key"`
	Timeout Duration `koanf:"timeout"`
	// LawyerNumbers receive the lead summary, digits with country code.
	LawyerNumbers []string `koanf:"lawyer_numbers"`
}

// NATSConfig configures the JetStream sink.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
	Stream  string `koanf:"stream"`
}

// ArchiveConfig configures the SQL lead archive.
type ArchiveConfig struct {
	Enabled bool   `koanf:"enabled"`
	Driver  string `koanf:"driver"`
	DSN     Secret `koanf:"dsn"`
}

// RedactionConfig controls scrubbing of personal data from stored and
// logged error text. Scrubbing is on unless disabled.
type RedactionConfig struct {
	Disabled  bool     `koanf:"disabled"`
	AllowList []string `koanf:"allow_list"`
}

// LoggingConfig is the subset of logging options exposed to operators.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig is the subset of OTEL options exposed to operators.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Session defaults
	if cfg.Session.Store == "" {
		cfg.Session.Store = BackendMemory
	}
	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = Duration(30 * time.Minute)
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = Duration(time.Minute)
	}
	if cfg.Session.LockTimeout == 0 {
		cfg.Session.LockTimeout = Duration(2 * time.Second)
	}

	// Redis defaults
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "leadflow"
	}

	// Rate limit defaults (10 messages per minute)
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = cfg.Session.Store
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = Duration(time.Minute)
	}
	if cfg.RateLimit.MaxMessages == 0 {
		cfg.RateLimit.MaxMessages = 10
	}
	if cfg.RateLimit.RetryAfter == 0 {
		cfg.RateLimit.RetryAfter = Duration(30 * time.Second)
	}

	// Engine defaults
	if cfg.Engine.TurnTimeout == 0 {
		cfg.Engine.TurnTimeout = Duration(5 * time.Second)
	}
	if len(cfg.Engine.RequiredFields) == 0 {
		cfg.Engine.RequiredFields = []string{"name", "phone", "legal_area"}
	}
	if cfg.Engine.MergePolicy == "" {
		cfg.Engine.MergePolicy = MergeGreaterOrEqual
	}
	if cfg.Engine.Timezone == "" {
		cfg.Engine.Timezone = "America/Sao_Paulo"
	}

	// Extraction defaults
	if cfg.Extraction.MaxMessageLength == 0 {
		cfg.Extraction.MaxMessageLength = 4000
	}

	// Notify defaults
	if cfg.Notify.Sink == "" {
		cfg.Notify.Sink = SinkLog
	}
	if cfg.Notify.Workers == 0 {
		cfg.Notify.Workers = 4
	}
	if cfg.Notify.QueueSize == 0 {
		cfg.Notify.QueueSize = 256
	}
	if cfg.Notify.AttemptTimeout == 0 {
		cfg.Notify.AttemptTimeout = Duration(10 * time.Second)
	}
	if cfg.Notify.HistorySize == 0 {
		cfg.Notify.HistorySize = 10000
	}
	if cfg.Notify.Retry.MaxAttempts == 0 {
		cfg.Notify.Retry.MaxAttempts = 5
	}
	if cfg.Notify.Retry.InitialBackoff == 0 {
		cfg.Notify.Retry.InitialBackoff = Duration(time.Second)
	}
	if cfg.Notify.Retry.MaxBackoff == 0 {
		cfg.Notify.Retry.MaxBackoff = Duration(30 * time.Second)
	}
	if cfg.Notify.Retry.Multiplier == 0 {
		cfg.Notify.Retry.Multiplier = 2.0
	}
	if cfg.Notify.Breaker.Threshold == 0 {
		cfg.Notify.Breaker.Threshold = 5
	}
	if cfg.Notify.Breaker.Window == 0 {
		cfg.Notify.Breaker.Window = Duration(time.Minute)
	}
	if cfg.Notify.Breaker.Cooldown == 0 {
		cfg.Notify.Breaker.Cooldown = Duration(30 * time.Second)
	}
	if cfg.Notify.WhatsApp.BaseURL == "" {
		cfg.Notify.WhatsApp.BaseURL = "http://localhost:3000"
	}
	if cfg.Notify.WhatsApp.Timeout == 0 {
		cfg.Notify.WhatsApp.Timeout = Duration(10 * time.Second)
	}
	if cfg.Notify.NATS.URL == "" {
		cfg.Notify.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Notify.NATS.Subject == "" {
		cfg.Notify.NATS.Subject = "leads.completed"
	}
	if cfg.Notify.NATS.Stream == "" {
		cfg.Notify.NATS.Stream = "LEADS"
	}

	// Archive defaults
	if cfg.Archive.Driver == "" {
		cfg.Archive.Driver = "sqlite"
	}
	if cfg.Archive.DSN == "" {
		cfg.Archive.DSN = "file:leadflow.db?_pragma=busy_timeout(5000)"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Telemetry defaults
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "leadflow"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Engine.TurnTimeout.Duration() >= c.Server.RequestTimeout.Duration() {
		errs = append(errs, fmt.Errorf("engine.turn_timeout (%s) must be shorter than server.request_timeout (%s)",
			c.Engine.TurnTimeout.Duration(), c.Server.RequestTimeout.Duration()))
	}

	if !isBackend(c.Session.Store) {
		errs = append(errs, fmt.Errorf("session.store must be %q or %q, got %q", BackendMemory, BackendRedis, c.Session.Store))
	}
	if !isBackend(c.RateLimit.Backend) {
		errs = append(errs, fmt.Errorf("ratelimit.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.RateLimit.Backend))
	}
	if c.Session.IdleTTL.Duration() <= 0 {
		errs = append(errs, errors.New("session.idle_ttl must be positive"))
	}
	if c.Session.LockTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("session.lock_timeout must be positive"))
	}
	if c.RateLimit.MaxMessages < 1 {
		errs = append(errs, fmt.Errorf("ratelimit.max_messages must be >= 1, got %d", c.RateLimit.MaxMessages))
	}

	if c.Engine.MergePolicy != MergeGreaterOrEqual && c.Engine.MergePolicy != MergeStrictlyGreater {
		errs = append(errs, fmt.Errorf("engine.merge_policy must be %q or %q, got %q",
			MergeGreaterOrEqual, MergeStrictlyGreater, c.Engine.MergePolicy))
	}
	if _, err := c.Engine.Location(); err != nil {
		errs = append(errs, err)
	}
	for name, w := range c.Extraction.Weights {
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Errorf("extraction.weights.%s must be within [0,1], got %f", name, w))
		}
	}

	switch c.Notify.Sink {
	case SinkWhatsApp, SinkNATS, SinkLog:
	default:
		errs = append(errs, fmt.Errorf("notify.sink must be one of whatsapp, nats, log; got %q", c.Notify.Sink))
	}
	for _, n := range c.Notify.WhatsApp.LawyerNumbers {
		if !lawyerNumber.MatchString(n) {
			errs = append(errs, fmt.Errorf("notify.whatsapp.lawyer_numbers: %q is not 10 to 15 digits", n))
		}
	}
	if c.Notify.Workers < 1 {
		errs = append(errs, fmt.Errorf("notify.workers must be >= 1, got %d", c.Notify.Workers))
	}
	if c.Notify.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("notify.retry.max_attempts must be >= 1, got %d", c.Notify.Retry.MaxAttempts))
	}
	if c.Notify.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("notify.retry.multiplier must be >= 1, got %f", c.Notify.Retry.Multiplier))
	}
	if c.Notify.Retry.MaxBackoff < c.Notify.Retry.InitialBackoff {
		errs = append(errs, errors.New("notify.retry.max_backoff must be >= initial_backoff"))
	}
	if c.Notify.Breaker.Threshold < 1 {
		errs = append(errs, fmt.Errorf("notify.breaker.threshold must be >= 1, got %d", c.Notify.Breaker.Threshold))
	}

	if c.Archive.Enabled && c.Archive.Driver != "sqlite" && c.Archive.Driver != "postgres" {
		errs = append(errs, fmt.Errorf("archive.driver must be sqlite or postgres, got %q", c.Archive.Driver))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}

func isBackend(s string) bool {
	return s == BackendMemory || s == BackendRedis
}
