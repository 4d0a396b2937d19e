// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/parley/internal/model"
)

// Error variables for store mutations.
var (
	// ErrNoConversation indicates an append was requested with no current
	// conversation. The store never creates a conversation on its own;
	// conversation creation is the orchestrator's responsibility.
	ErrNoConversation = errors.New("no current conversation")

	// ErrConversationReplaced indicates the current conversation changed
	// between the time a turn observed it and the time the turn tried to
	// mutate it.
	ErrConversationReplaced = errors.New("conversation was replaced")

	// ErrMessageNotFound indicates the referenced message does not exist
	// in the addressed conversation.
	ErrMessageNotFound = errors.New("message not found")

	// ErrConversationNotFound indicates the referenced conversation is not
	// known to the store.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidRating indicates an unknown rating value.
	ErrInvalidRating = errors.New("invalid rating")
)

// =============================================================================
// STORE
// =============================================================================

// Store is the single in-memory source of truth for the active conversation
// and the set of known conversations. All reads and writes are synchronous
// and guarded by one mutex, so no two mutations can interleave mid-mutation.
type Store struct {
	mu sync.Mutex

	// current is the active conversation, nil when none.
	current *model.Conversation

	// known holds every conversation seen this session, keyed by its
	// current ID. Entries are re-keyed when the backend identifier is
	// reconciled in.
	known map[string]*model.Conversation

	// aliases maps a retired local ID to the backend ID that replaced it,
	// so a turn that observed the conversation before reconciliation can
	// still address it afterwards.
	aliases map[string]string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		known:   make(map[string]*model.Conversation),
		aliases: make(map[string]string),
	}
}

// resolveLocked follows the alias chain from an observed ID to the
// conversation's current ID. Caller must hold s.mu.
func (s *Store) resolveLocked(id string) string {
	for {
		next, ok := s.aliases[id]
		if !ok {
			return id
		}
		id = next
	}
}

// =============================================================================
// READS
// =============================================================================

// Current returns a deep snapshot of the current conversation, or nil when
// there is none. It always reflects the latest state; callers that resume
// after a suspension point must call it again rather than reuse an earlier
// snapshot.
func (s *Store) Current() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Clone()
}

// CurrentID returns the current conversation's ID, or "" when none.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// List returns metadata for all known conversations, most recently updated
// first.
func (s *Store) List() []model.ConversationMeta {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas := make([]model.ConversationMeta, 0, len(s.known))
	for _, conv := range s.known {
		metas = append(metas, conv.Meta())
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas
}

// Lookup returns metadata for the conversation the caller observed under
// observedID, following any identity reconciliation that happened since. The
// second result is false when the conversation is not known at all.
func (s *Store) Lookup(observedID string) (model.ConversationMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.known[s.resolveLocked(observedID)]
	if !ok {
		return model.ConversationMeta{}, false
	}
	return conv.Meta(), true
}

// =============================================================================
// CURRENT-CONVERSATION LIFECYCLE
// =============================================================================

// SetCurrent replaces the current conversation with the given one. The store
// takes a deep copy, so the caller's value never aliases store-owned state.
// Switching is a full replacement; there is no partial merge.
func (s *Store) SetCurrent(conv *model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := conv.Clone()
	s.current = owned
	s.known[owned.ID] = owned
}

// SwitchTo makes a known conversation current. Returns
// ErrConversationNotFound if the ID is unknown.
func (s *Store) SwitchTo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.known[s.resolveLocked(id)]
	if !ok {
		return ErrConversationNotFound
	}
	s.current = conv
	return nil
}

// Reset clears the current conversation without touching the known list.
// The next submitted turn will create a fresh local conversation.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// =============================================================================
// MESSAGE MUTATIONS
// =============================================================================

// AppendMessage appends a message to the current conversation, assigning an
// ID and timestamp if the caller left them empty, and returns a snapshot of
// the stored message.
//
// convID must be the conversation ID the caller most recently observed. The
// append fails with ErrNoConversation when there is no current conversation
// and with ErrConversationReplaced when the current conversation's ID no
// longer matches, so a continuation resuming after a network call cannot
// append to a conversation it never saw.
func (s *Store) AppendMessage(convID string, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, ErrNoConversation
	}
	// Resolve aliases so a turn that observed the local ID before identity
	// reconciliation still addresses the same conversation.
	if s.resolveLocked(convID) != s.current.ID {
		return nil, ErrConversationReplaced
	}

	owned := msg.Clone()
	if owned.ID == "" {
		replacement := model.NewMessage(owned.Role, owned.Content)
		replacement.Attachments = owned.Attachments
		replacement.IsError = owned.IsError
		replacement.GenDuration = owned.GenDuration
		owned = replacement
	}
	if owned.CreatedAt.IsZero() {
		owned.CreatedAt = time.Now()
	}

	s.current.Messages = append(s.current.Messages, owned)
	s.current.UpdatedAt = time.Now()
	s.current.DeriveTitle()

	log.Debug().
		Str("component", "store").
		Str("conversation_id", convID).
		Str("message_id", owned.ID).
		Str("role", owned.Role.String()).
		Int("message_count", len(s.current.Messages)).
		Msg("message appended")

	return owned.Clone(), nil
}

// RateMessage sets the rating on a message of the addressed conversation.
// Rating is the only post-append mutation allowed on a displayed message.
func (s *Store) RateMessage(convID, messageID string, rating model.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !rating.Valid() {
		return ErrInvalidRating
	}
	conv, ok := s.known[s.resolveLocked(convID)]
	if !ok {
		return ErrConversationNotFound
	}
	msg := conv.MessageByID(messageID)
	if msg == nil {
		return ErrMessageNotFound
	}
	msg.Rating = rating
	conv.UpdatedAt = time.Now()
	return nil
}

// =============================================================================
// IDENTITY RECONCILIATION
// =============================================================================

// ReplaceConversationID swaps a locally generated conversation ID for the
// backend-assigned one. The swap is idempotent:
//
//   - if a conversation with oldID is known, it is re-keyed to newID and
//     marked provisioned;
//   - if newID is already in place (a concurrent worker won the race), this
//     is a no-op reporting success;
//   - if oldID is gone entirely, nothing happens and false is returned — the
//     caller's conversation was replaced and its identity must not be grafted
//     onto whatever is current now.
//
// Both the current conversation and the known list observe the same ID after
// the swap; there is no moment where they disagree.
func (s *Store) ReplaceConversationID(oldID, newID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID == newID || newID == "" {
		return false
	}

	if conv, ok := s.known[oldID]; ok {
		delete(s.known, oldID)
		conv.ID = newID
		conv.Provisioned = true
		conv.UpdatedAt = time.Now()
		s.known[newID] = conv
		s.aliases[oldID] = newID

		log.Debug().
			Str("component", "store").
			Str("old_id", oldID).
			Str("new_id", newID).
			Msg("conversation id reconciled")
		return true
	}

	// Already reconciled by an earlier worker run.
	if _, ok := s.known[newID]; ok {
		return true
	}

	return false
}
