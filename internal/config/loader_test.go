package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// setupTestHome points HOME at a temp dir and returns the leadflow config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "leadflow")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  port: 9191
session:
  store: memory
  idle_ttl: 45m
ratelimit:
  max_messages: 20
  window: 30s
engine:
  required_fields: [name, phone]
notify:
  sink: nats
  retry:
    max_attempts: 7
    initial_backoff: 250ms
  nats:
    subject: leads.test
`, 0600)

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Session.IdleTTL.Duration() != 45*time.Minute {
		t.Errorf("Session.IdleTTL = %v, want 45m", cfg.Session.IdleTTL.Duration())
	}
	if cfg.RateLimit.MaxMessages != 20 {
		t.Errorf("RateLimit.MaxMessages = %d, want 20", cfg.RateLimit.MaxMessages)
	}
	if cfg.RateLimit.Window.Duration() != 30*time.Second {
		t.Errorf("RateLimit.Window = %v, want 30s", cfg.RateLimit.Window.Duration())
	}
	if got := strings.Join(cfg.Engine.RequiredFields, ","); got != "name,phone" {
		t.Errorf("Engine.RequiredFields = %q, want name,phone", got)
	}
	if cfg.Notify.Sink != SinkNATS {
		t.Errorf("Notify.Sink = %q, want nats", cfg.Notify.Sink)
	}
	if cfg.Notify.Retry.MaxAttempts != 7 {
		t.Errorf("Notify.Retry.MaxAttempts = %d, want 7", cfg.Notify.Retry.MaxAttempts)
	}
	if cfg.Notify.Retry.InitialBackoff.Duration() != 250*time.Millisecond {
		t.Errorf("Notify.Retry.InitialBackoff = %v, want 250ms", cfg.Notify.Retry.InitialBackoff.Duration())
	}
	if cfg.Notify.NATS.Subject != "leads.test" {
		t.Errorf("Notify.NATS.Subject = %q, want leads.test", cfg.Notify.NATS.Subject)
	}

	// Untouched sections keep their defaults.
	if cfg.Notify.Breaker.Threshold != 5 {
		t.Errorf("Notify.Breaker.Threshold = %d, want default 5", cfg.Notify.Breaker.Threshold)
	}
	if cfg.Engine.Timezone != "America/Sao_Paulo" {
		t.Errorf("Engine.Timezone = %q, want America/Sao_Paulo", cfg.Engine.Timezone)
	}
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.RateLimit.MaxMessages != 10 {
		t.Errorf("RateLimit.MaxMessages = %d, want 10", cfg.RateLimit.MaxMessages)
	}
	if cfg.RateLimit.Backend != BackendMemory {
		t.Errorf("RateLimit.Backend = %q, want memory", cfg.RateLimit.Backend)
	}
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9191\n", 0600)

	t.Setenv("LEADFLOW_SERVER_PORT", "9292")
	t.Setenv("LEADFLOW_SESSION_LOCK_TIMEOUT", "750ms")
	t.Setenv("LEADFLOW_NOTIFY__RETRY__MAX_ATTEMPTS", "3")
	t.Setenv("LEADFLOW_NOTIFY__WHATSAPP__API_KEY", "gateway-key")

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.Server.Port != 9292 {
		t.Errorf("Server.Port = %d, want env override 9292", cfg.Server.Port)
	}
	if cfg.Session.LockTimeout.Duration() != 750*time.Millisecond {
		t.Errorf("Session.LockTimeout = %v, want 750ms", cfg.Session.LockTimeout.Duration())
	}
	if cfg.Notify.Retry.MaxAttempts != 3 {
		t.Errorf("Notify.Retry.MaxAttempts = %d, want 3", cfg.Notify.Retry.MaxAttempts)
	}
	if cfg.Notify.WhatsApp.APIKey.Value() != "gateway-key" {
		t.Errorf("Notify.WhatsApp.APIKey not loaded from env")
	}
	if cfg.Notify.WhatsApp.APIKey.String() != "[REDACTED]" {
		t.Errorf("APIKey.String() = %q, want redacted", cfg.Notify.WhatsApp.APIKey.String())
	}
}

func TestLoadWithFile_RejectsOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	other := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(other, []byte("server:\n  port: 9000\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadWithFile(other)
	if err == nil || !strings.Contains(err.Error(), "path validation failed") {
		t.Fatalf("LoadWithFile() error = %v, want path validation failure", err)
	}
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9000\n", 0644)

	_, err := LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "insecure config file permissions") {
		t.Fatalf("LoadWithFile() error = %v, want permission failure", err)
	}
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "notify:\n  sink: carrier-pigeon\n", 0600)

	_, err := LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "notify.sink") {
		t.Fatalf("LoadWithFile() error = %v, want notify.sink validation failure", err)
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"LEADFLOW_SERVER_PORT", "server.port"},
		{"LEADFLOW_SESSION_IDLE_TTL", "session.idle_ttl"},
		{"LEADFLOW_NOTIFY__RETRY__MAX_ATTEMPTS", "notify.retry.max_attempts"},
		{"LEADFLOW_NOTIFY__SINK", "notify.sink"},
		{"LEADFLOW_DEBUG", "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := envKey(tt.in); got != tt.want {
				t.Errorf("envKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadWithFile_PathFromEnv(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "staging.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9393\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(PathEnv, path)

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.Server.Port != 9393 {
		t.Errorf("Server.Port = %d, want 9393 from %s", cfg.Server.Port, PathEnv)
	}
}

func TestLoadWithFile_EnvLists(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("LEADFLOW_ENGINE_REQUIRED_FIELDS", "name, phone,,")
	t.Setenv("LEADFLOW_REDACTION_ALLOW_LIST", `@leadflow\.example$`)
	t.Setenv("LEADFLOW_NOTIFY__WHATSAPP__LAWYER_NUMBERS", "5521911110000, +5521922220000")

	cfg, err := LoadWithFile(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if got := strings.Join(cfg.Engine.RequiredFields, ","); got != "name,phone" {
		t.Errorf("Engine.RequiredFields = %q, want name,phone", got)
	}
	if len(cfg.Redaction.AllowList) != 1 || cfg.Redaction.AllowList[0] != `@leadflow\.example$` {
		t.Errorf("Redaction.AllowList = %v", cfg.Redaction.AllowList)
	}
	if got := strings.Join(cfg.Notify.WhatsApp.LawyerNumbers, ","); got != "5521911110000,+5521922220000" {
		t.Errorf("Notify.WhatsApp.LawyerNumbers = %q", got)
	}
}

func TestEnvValue(t *testing.T) {
	key, val := envValue(PathEnv, "/etc/leadflow/config.yaml")
	if key != "" {
		t.Errorf("envValue(%s) key = %q, want skipped", PathEnv, key)
	}
	key, val = envValue("LEADFLOW_SERVER_PORT", "9000")
	if key != "server.port" || val != "9000" {
		t.Errorf("envValue(server port) = %q, %v", key, val)
	}
}
