// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types used throughout the application
// for representing project-scoped chat conversations, messages, and
// attachment references.
//
// # Key Types
//
//   - Conversation: Container for a chat session with messages and metadata
//   - Message: Single message with role, content, rating, and attachment refs
//   - AttachmentRef: Display-oriented projection of a file attachment
//   - Role: Message role enumeration (user, assistant, system)
//
// # Identity
//
// Conversation and message IDs are generated locally so that display never
// blocks on the network. A conversation ID is replaced exactly once with the
// backend-assigned identifier after the backend record has been provisioned;
// the Provisioned flag records that the swap has happened.
package model
