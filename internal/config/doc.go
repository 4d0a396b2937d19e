// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for parley.
//
// Configuration comes from ~/.parley/config.toml with built-in defaults and
// PARLEY_* environment variable overrides applied last. A file watcher can
// re-load tunable settings (log level, timeouts) while the client runs;
// structural settings like endpoints and the project ID are read once at
// startup.
package config
