// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// RATING TYPE
// =============================================================================

// Rating is the user's thumbs-up/down verdict on an assistant message.
// Rating is the only field of a displayed message that may change after the
// message has been appended.
type Rating string

const (
	RatingNone Rating = ""
	RatingUp   Rating = "thumbs-up"
	RatingDown Rating = "thumbs-down"
)

// Valid reports whether the rating is one of the known values.
func (r Rating) Valid() bool {
	switch r {
	case RatingNone, RatingUp, RatingDown:
		return true
	default:
		return false
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// Content
	Content string `json:"content"`

	// Attachments shown alongside the message. These are lightweight
	// references; the encoded binary payload is owned by the attachment
	// encoder and never stored here.
	Attachments []AttachmentRef `json:"attachments,omitempty"`

	// Rating is the user's verdict on an assistant message.
	Rating Rating `json:"rating,omitempty"`

	// IsError marks an assistant-role message that reports a failed
	// generation rather than actual model output.
	IsError bool `json:"is_error,omitempty"`

	// GenDuration is how long the generation request took (assistant
	// messages only).
	GenDuration time.Duration `json:"gen_duration_ns,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateMessageID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) *Message {
	return NewMessage(RoleAssistant, content)
}

// NewErrorMessage creates an assistant-role message that carries a
// user-visible failure description for a turn that could not complete.
func NewErrorMessage(content string) *Message {
	msg := NewMessage(RoleAssistant, content)
	msg.IsError = true
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// Clone returns a copy of the message with its own attachment slice.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Attachments != nil {
		cp.Attachments = append([]AttachmentRef(nil), m.Attachments...)
	}
	return &cp
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateMessageID creates a unique message ID.
func generateMessageID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}
