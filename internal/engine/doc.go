// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine sequences a conversation turn end to end.
//
// The Orchestrator drives the per-turn state machine: append the user's
// message optimistically, encode attachments, call generation, append the
// assistant reply (or a visible error message), then hand the turn to the
// background persistence worker and return. The UI never waits on
// persistence.
//
// The Worker drains turns one at a time in submission order, because backend
// message ordering is derived from write order. Its steps per turn are:
// ensure the backend conversation exists (lazy, idempotent), persist the
// user message, persist the assistant message. Step failures are logged and
// never surfaced into the displayed conversation.
package engine
