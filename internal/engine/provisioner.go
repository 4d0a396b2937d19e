// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/parley/internal/backend"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/store"
)

// Provisioner creates backend conversation records on demand and reconciles
// the backend-assigned identifier back into the store.
//
// Provisioning is lazy: nothing calls it just because a conversation exists
// for display. It runs only from the persistence worker once a turn has
// finished, so a conversation abandoned before its first completed exchange
// never leaves an orphan backend record.
type Provisioner struct {
	backend *backend.Client
	store   *store.Store
}

// NewProvisioner creates a provisioner.
func NewProvisioner(client *backend.Client, st *store.Store) *Provisioner {
	return &Provisioner{backend: client, store: st}
}

// EnsureBackendConversation returns the backend ID for the given
// conversation, creating the backend record if it does not exist yet.
//
// The call is idempotent: a conversation that already carries a backend ID
// is returned as-is, so two queued worker runs for the same conversation
// cannot mint two backend records.
func (p *Provisioner) EnsureBackendConversation(ctx context.Context, meta model.ConversationMeta, titleHint string) (string, error) {
	if meta.Provisioned {
		return meta.ID, nil
	}

	title := meta.Title
	if title == "" {
		title = titleHint
	}

	backendID, err := p.backend.CreateConversation(ctx, meta.ProjectID, title)
	if err != nil {
		return "", fmt.Errorf("create backend conversation: %w", err)
	}

	p.store.ReplaceConversationID(meta.ID, backendID)

	log.Info().
		Str("component", "engine").
		Str("local_id", meta.ID).
		Str("backend_id", backendID).
		Msg("backend conversation provisioned")

	return backendID, nil
}
