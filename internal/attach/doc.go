// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attach reads files from disk and prepares them for a generation
// request.
//
// Encoding happens concurrently, one goroutine per file, but a failure on
// one file never aborts its siblings: the caller gets every payload that
// succeeded plus a per-file error list, and decides whether to proceed with
// the partial set.
package attach
