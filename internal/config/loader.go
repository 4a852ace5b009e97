package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks environment variables read as configuration overrides.
	EnvPrefix = "LEADFLOW_"

	// PathEnv names the config file when no path is passed explicitly.
	PathEnv = EnvPrefix + "CONFIG"

	maxConfigFileSize = 1 << 20
	systemConfigDir   = "/etc/leadflow"
)

// listKeys are read from the environment as comma-separated lists, e.g.
// LEADFLOW_ENGINE_REQUIRED_FIELDS=name,phone.
var listKeys = map[string]bool{
	"engine.required_fields": true,
	"redaction.allow_list":   true,

	"notify.whatsapp.lawyer_numbers": true,
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (LEADFLOW_SERVER_PORT, LEADFLOW_NOTIFY__RETRY__MAX_ATTEMPTS, ...)
//  2. YAML config file
//  3. Defaults
//
// The file is configPath if set, else $LEADFLOW_CONFIG, else the first of
// ~/.config/leadflow/config.yaml and /etc/leadflow/config.yaml that exists.
// A missing file is not an error. An existing file must live under one of
// those two directories, be at most 1MB and have 0600 or 0400 permissions.
//
// # Environment Variable Mapping
//
// After the prefix is stripped, a single underscore separates the section from
// the field and a double underscore separates nested levels:
//
//	LEADFLOW_SERVER_PORT                  -> server.port
//	LEADFLOW_SESSION_IDLE_TTL             -> session.idle_ttl
//	LEADFLOW_NOTIFY__RETRY__MAX_ATTEMPTS  -> notify.retry.max_attempts
func LoadWithFile(configPath string) (*Config, error) {
	dirs, err := allowedDirs()
	if err != nil {
		return nil, err
	}
	path := resolvePath(configPath, dirs)
	if err := validateConfigPath(path, dirs); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	k := koanf.New(".")
	if err := loadFile(k, path); err != nil {
		return nil, err
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func allowedDirs() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return []string{filepath.Join(home, ".config", "leadflow"), systemConfigDir}, nil
}

// resolvePath picks the file to read. When nothing exists the per-user path
// is returned so the caller still validates a sensible location.
func resolvePath(explicit string, dirs []string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dirs[0], "config.yaml")
}

// loadFile reads path into k. The descriptor is validated after opening so
// the checked file is the one that is read.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// envValue maps one environment variable to a koanf key and value. An empty
// key makes koanf skip the variable.
func envValue(name, value string) (string, any) {
	if name == PathEnv {
		return "", nil
	}
	key := envKey(name)
	if listKeys[key] {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return key, items
	}
	return key, value
}

// envKey maps an environment variable name to a koanf key path.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if strings.Contains(lower, "__") {
		return strings.ReplaceAll(lower, "__", ".")
	}
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// validateConfigPath checks that path, after following symlinks, is inside
// one of dirs. It runs even when the file does not exist yet.
func validateConfigPath(path string, dirs []string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	for _, dir := range dirs {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/leadflow/ or %s/", systemConfigDir)
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
