// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete parley configuration.
type Config struct {
	// Project is the project/tenant this client session belongs to.
	Project ProjectConfig `toml:"project"`

	// Backend is the conversation persistence service.
	Backend BackendConfig `toml:"backend"`

	// LLM is the generation service.
	LLM LLMConfig `toml:"llm"`

	// Log controls logging output.
	Log LogConfig `toml:"log"`
}

// ProjectConfig identifies the active project.
type ProjectConfig struct {
	// ID is the project identifier conversations are created under.
	ID string `toml:"id"`
}

// BackendConfig contains persistence service settings.
type BackendConfig struct {
	// URL is the base URL of the persistence API.
	URL string `toml:"url"`
	// APIKey authenticates persistence requests.
	APIKey string `toml:"api_key"`
	// TimeoutSecs is the per-request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs"`
}

// LLMConfig contains generation service settings.
type LLMConfig struct {
	// URL is the base URL of the inference API.
	URL string `toml:"url"`
	// APIKey authenticates generation requests.
	APIKey string `toml:"api_key"`
	// TimeoutSecs is the client-side generation deadline in seconds. Keep
	// it under the serving infrastructure's 180s ceiling so the timeout
	// the user sees is the client's.
	TimeoutSecs int `toml:"timeout_secs"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of "trace", "debug", "info", "warn", "error".
	Level string `toml:"level"`
	// Format is "console" or "json".
	Format string `toml:"format"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			ID: "default",
		},
		Backend: BackendConfig{
			URL:         "https://api.parley.local",
			TimeoutSecs: 30,
		},
		LLM: LLMConfig{
			URL:         "https://api.parley.local",
			TimeoutSecs: 170,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the parley configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".parley"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on the config file.
// It holds API keys, so anything wider than 0600 is tightened.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file, falling back to
// defaults when it does not exist. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load TOML config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PARLEY_PROJECT_ID: overrides project.id
//   - PARLEY_BACKEND_URL: overrides backend.url
//   - PARLEY_BACKEND_KEY: overrides backend.api_key
//   - PARLEY_LLM_URL: overrides llm.url
//   - PARLEY_LLM_KEY: overrides llm.api_key
//   - PARLEY_LLM_TIMEOUT_SECS: overrides llm.timeout_secs
//   - PARLEY_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if id := os.Getenv("PARLEY_PROJECT_ID"); id != "" {
		c.Project.ID = id
	}
	if u := os.Getenv("PARLEY_BACKEND_URL"); u != "" {
		c.Backend.URL = u
	}
	if key := os.Getenv("PARLEY_BACKEND_KEY"); key != "" {
		c.Backend.APIKey = key
	}
	if u := os.Getenv("PARLEY_LLM_URL"); u != "" {
		c.LLM.URL = u
	}
	if key := os.Getenv("PARLEY_LLM_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if secs := os.Getenv("PARLEY_LLM_TIMEOUT_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			c.LLM.TimeoutSecs = n
		}
	}
	if level := os.Getenv("PARLEY_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Project.ID == "" {
		errs = append(errs, ValidationError{"project.id", "must not be empty"})
	}

	for _, ep := range []struct {
		field string
		value string
	}{
		{"backend.url", c.Backend.URL},
		{"llm.url", c.LLM.URL},
	} {
		parsed, err := url.Parse(ep.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, ValidationError{ep.field, fmt.Sprintf("invalid URL %q", ep.value)})
		}
	}

	if c.Backend.TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{"backend.timeout_secs", "must be positive"})
	}
	if c.LLM.TimeoutSecs <= 0 || c.LLM.TimeoutSecs >= 180 {
		errs = append(errs, ValidationError{"llm.timeout_secs", "must be in (0, 180); the service itself times out at 180s"})
	}

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("unknown level %q", c.Log.Level)})
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{"log.format", fmt.Sprintf("unknown format %q", c.Log.Format)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
