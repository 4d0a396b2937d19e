// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// TitleMaxRunes is the maximum number of runes in a derived conversation
// title. Titles longer than this are rune-truncated with an ellipsis.
const TitleMaxRunes = 50

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat conversation with its history and metadata.
//
// The ID starts out locally generated ("conv_" prefix) so that a conversation
// can be displayed before any network round-trip. Once the backend record has
// been provisioned the ID is replaced with the backend-assigned identifier
// and Provisioned is set; the swap happens at most once.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Provisioned is true once ID holds the backend-assigned identifier.
	Provisioned bool `json:"provisioned"`

	// Messages, append-only in insertion order.
	Messages []*Message `json:"messages"`
}

// NewConversation creates a new local conversation for a project.
func NewConversation(projectID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        generateConversationID(),
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE ACCESS
// =============================================================================

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// MessageByID returns a message by its ID, or nil.
func (c *Conversation) MessageByID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// DeriveTitle auto-generates a title from the first user message if not set.
func (c *Conversation) DeriveTitle() {
	if c.Title != "" {
		return
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			c.Title = msg.Preview(TitleMaxRunes)
			return
		}
	}
}

// DisplayTitle returns the conversation title or a default.
func (c *Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// =============================================================================
// SNAPSHOTS AND METADATA
// =============================================================================

// Clone creates a deep copy of the conversation. The store hands out clones
// so that no caller can hold a live reference to store-owned state.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:          c.ID,
		ProjectID:   c.ProjectID,
		Title:       c.Title,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		Provisioned: c.Provisioned,
		Messages:    make([]*Message, len(c.Messages)),
	}
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return clone
}

// Preview returns a short preview of the conversation.
func (c *Conversation) Preview() string {
	if len(c.Messages) == 0 {
		return "Empty conversation"
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg.Preview(100)
		}
	}
	return c.Messages[0].Preview(100)
}

// Meta returns metadata about the conversation for listing.
func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		ProjectID:    c.ProjectID,
		Title:        c.DisplayTitle(),
		Provisioned:  c.Provisioned,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Preview:      c.Preview(),
	}
}

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Title        string    `json:"title"`
	Provisioned  bool      `json:"provisioned"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateConversationID creates a unique local conversation ID.
func generateConversationID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "conv_" + hex.EncodeToString(bytes)
}

// IsLocalConversationID reports whether an ID was generated locally (as
// opposed to assigned by the backend).
func IsLocalConversationID(id string) bool {
	return len(id) > 5 && id[:5] == "conv_"
}
