// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small string utilities shared across the client.
//
// The truncation helpers are rune- and width-aware so that derived
// conversation titles and message previews never split a multi-byte UTF-8
// character or misjudge the display width of CJK text.
package util
