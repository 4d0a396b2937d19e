// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm calls the language model inference service.
//
// Generation is a single blocking HTTP request with a client-side timeout
// kept under the service's own response ceiling, so the client gives up
// before the server would. Failures are classified into a small set of
// sentinel errors (transport, timeout, rate limited, server, malformed) so
// the sync engine can choose a user-facing message per class without
// inspecting transport details.
package llm
