// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the in-memory source of truth for conversations.
//
// The Store exclusively owns the canonical Conversation values. Every other
// component either reads deep snapshots (Current, List) or requests
// mutations through the Store's API (AppendMessage, ReplaceConversationID,
// SetCurrent, RateMessage). Nothing outside this package ever holds a live
// reference to store-owned state, which is what makes "re-read fresh state
// before every mutation" sufficient to prevent lost updates across
// suspension points.
//
// Mutations that belong to a specific turn carry the conversation ID the
// turn observed when it started; the Store rejects them with
// ErrConversationReplaced if the current conversation has changed in the
// meantime, so an in-flight result can never be appended to the wrong
// conversation.
package store
