// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend talks to the persistence service over HTTP.
//
// The client covers the small surface the sync engine needs: creating a
// conversation, appending a message to it, and fetching a project's context
// and enabled extensions. Writes are paced through a shared rate limiter so
// a burst of queued persistence jobs cannot hammer the service.
//
// Backend persistence is best-effort from the UI's point of view: callers in
// the background worker log failures and move on, they never surface them to
// the displayed conversation.
package backend
