// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[project]
id = "proj-7"

[backend]
url = "https://backend.example.com"
api_key = "bk-123"
timeout_secs = 20

[llm]
url = "https://llm.example.com"
api_key = "lk-456"
timeout_secs = 120

[log]
level = "debug"
format = "json"
`), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "proj-7", cfg.Project.ID)
	assert.Equal(t, "https://backend.example.com", cfg.Backend.URL)
	assert.Equal(t, "bk-123", cfg.Backend.APIKey)
	assert.Equal(t, 120, cfg.LLM.TimeoutSecs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromPath_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[project]
id = "proj-7"
`), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "proj-7", cfg.Project.ID)
	assert.Equal(t, Default().LLM.TimeoutSecs, cfg.LLM.TimeoutSecs)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromPath_FixesPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[project]
id = "proj-7"
`), 0o644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_PROJECT_ID", "proj-env")
	t.Setenv("PARLEY_LLM_KEY", "lk-env")
	t.Setenv("PARLEY_LLM_TIMEOUT_SECS", "90")
	t.Setenv("PARLEY_LOG_LEVEL", "warn")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "proj-env", cfg.Project.ID)
	assert.Equal(t, "lk-env", cfg.LLM.APIKey)
	assert.Equal(t, 90, cfg.LLM.TimeoutSecs)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty project", func(c *Config) { c.Project.ID = "" }, "project.id"},
		{"bad backend url", func(c *Config) { c.Backend.URL = "not a url" }, "backend.url"},
		{"llm timeout at ceiling", func(c *Config) { c.LLM.TimeoutSecs = 180 }, "llm.timeout_secs"},
		{"llm timeout zero", func(c *Config) { c.LLM.TimeoutSecs = 0 }, "llm.timeout_secs"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[project]
id = "proj-1"
`), 0o600))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch())

	require.NoError(t, os.WriteFile(path, []byte(`[project]
id = "proj-2"
`), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "proj-2", cfg.Project.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload did not fire")
	}
}

func TestWatcher_SkipsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[project]
id = "proj-1"
`), 0o600))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch())

	// An invalid write must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte(`[log]
level = "loud"
`), 0o600))

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config was delivered: %+v", cfg)
	case <-time.After(time.Second):
	}
}
