// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
)

// =============================================================================
// ATTACHMENT REFERENCE
// =============================================================================

// AttachmentRef is a display-oriented projection of a file attachment.
// The encoded binary payload is owned by the attachment encoder and is never
// duplicated into the conversation store.
type AttachmentRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`

	// Preview is optional short preview data (e.g. the first line of a
	// text file), for display only.
	Preview string `json:"preview,omitempty"`
}

// NewAttachmentRef creates an attachment reference with a generated ID.
func NewAttachmentRef(name string, size int64, mimeType string) AttachmentRef {
	return AttachmentRef{
		ID:       generateAttachmentID(),
		Name:     name,
		Size:     size,
		MimeType: mimeType,
	}
}

// generateAttachmentID creates a unique attachment ID.
func generateAttachmentID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "att_" + hex.EncodeToString(bytes)
}
