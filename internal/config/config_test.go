package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Engine.TurnTimeout.Duration() != 5*time.Second {
		t.Errorf("TurnTimeout = %v, want 5s", cfg.Engine.TurnTimeout.Duration())
	}
	if cfg.Server.RequestTimeout.Duration() != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.Server.RequestTimeout.Duration())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "turn timeout not shorter than request timeout",
			mutate:  func(c *Config) { c.Engine.TurnTimeout = c.Server.RequestTimeout },
			wantErr: "engine.turn_timeout",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Session.Store = "etcd" },
			wantErr: "session.store",
		},
		{
			name:    "unknown merge policy",
			mutate:  func(c *Config) { c.Engine.MergePolicy = "latest" },
			wantErr: "engine.merge_policy",
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Engine.Timezone = "Mars/Olympus" },
			wantErr: "engine.timezone",
		},
		{
			name:    "weight out of range",
			mutate:  func(c *Config) { c.Extraction.Weights = map[string]float64{"name": 1.5} },
			wantErr: "extraction.weights.name",
		},
		{
			name:    "max backoff below initial",
			mutate:  func(c *Config) { c.Notify.Retry.MaxBackoff = Duration(time.Millisecond) },
			wantErr: "max_backoff",
		},
		{
			name:    "archive driver",
			mutate:  func(c *Config) { c.Archive.Enabled = true; c.Archive.Driver = "mysql" },
			wantErr: "archive.driver",
		},
		{
			name:    "log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "lawyer number with punctuation",
			mutate:  func(c *Config) { c.Notify.WhatsApp.LawyerNumbers = []string{"5521911110000", "21-9999"} },
			wantErr: "notify.whatsapp.lawyer_numbers",
		},
		{
			name:    "lawyer number too short",
			mutate:  func(c *Config) { c.Notify.WhatsApp.LawyerNumbers = []string{"+55219"} },
			wantErr: "notify.whatsapp.lawyer_numbers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRateLimitBackendFollowsSessionStore(t *testing.T) {
	cfg := &Config{Session: SessionConfig{Store: BackendRedis}}
	applyDefaults(cfg)
	if cfg.RateLimit.Backend != BackendRedis {
		t.Errorf("RateLimit.Backend = %q, want redis", cfg.RateLimit.Backend)
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", d.Duration())
	}
	if err := d.UnmarshalText([]byte("-1s")); err == nil {
		t.Error("UnmarshalText(-1s) expected error")
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("UnmarshalText(soon) expected error")
	}
	if err := d.UnmarshalText([]byte(" 1800 ")); err != nil || d.Duration() != 30*time.Minute {
		t.Errorf("UnmarshalText(1800) = %v, %v; want 30m as seconds", d.Duration(), err)
	}
}

func TestEngineConfig_Location(t *testing.T) {
	loc, err := EngineConfig{Timezone: "America/Sao_Paulo"}.Location()
	if err != nil {
		t.Fatalf("Location() error = %v", err)
	}
	if loc.String() != "America/Sao_Paulo" {
		t.Errorf("Location() = %s", loc)
	}
	if _, err := (EngineConfig{Timezone: "Mars/Olympus"}).Location(); err == nil {
		t.Error("Location(Mars/Olympus) expected error")
	}
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("hunter2")

	if got := fmt.Sprintf("%v %s %#v", s, s, s); strings.Contains(got, "hunter2") {
		t.Errorf("formatted secret leaked: %q", got)
	}
	b, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "hunter2") {
		t.Errorf("json leaked secret: %s", b)
	}
	if s.Value() != "hunter2" || !s.IsSet() {
		t.Error("Value()/IsSet() should expose the raw secret")
	}
	if Secret("").String() != "" {
		t.Error("empty secret should print empty")
	}
}
