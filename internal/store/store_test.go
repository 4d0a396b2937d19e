// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// APPEND TESTS
// =============================================================================

func TestAppendMessage_NoConversation(t *testing.T) {
	s := New()

	_, err := s.AppendMessage("conv_whatever", model.NewUserMessage("hello"))
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestAppendMessage_AssignsIdentity(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)

	msg, err := s.AppendMessage(conv.ID, &model.Message{Role: model.RoleUser, Content: "hello"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, model.RoleUser, msg.Role)

	current := s.Current()
	require.Equal(t, 1, current.MessageCount())
	assert.Equal(t, msg.ID, current.Messages[0].ID)
}

func TestAppendMessage_ReplacedConversation(t *testing.T) {
	s := New()
	first := model.NewConversation("proj-1")
	s.SetCurrent(first)

	// The conversation is replaced while a turn is in flight.
	second := model.NewConversation("proj-1")
	s.SetCurrent(second)

	_, err := s.AppendMessage(first.ID, model.NewAssistantMessage("late reply"))
	assert.ErrorIs(t, err, ErrConversationReplaced)

	// The new conversation is untouched.
	assert.Equal(t, 0, s.Current().MessageCount())
}

func TestAppendMessage_AppendOnlyOrdering(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)

	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		_, err := s.AppendMessage(conv.ID, model.NewUserMessage(c))
		require.NoError(t, err)
	}

	current := s.Current()
	require.Equal(t, len(contents), current.MessageCount())
	for i, c := range contents {
		assert.Equal(t, c, current.Messages[i].Content)
	}
}

func TestAppendMessage_DerivesTitle(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)

	_, err := s.AppendMessage(conv.ID, model.NewUserMessage("Explain the tides to me"))
	require.NoError(t, err)

	assert.Equal(t, "Explain the tides to me", s.Current().Title)
}

// =============================================================================
// SNAPSHOT ISOLATION TESTS
// =============================================================================

func TestCurrent_ReturnsSnapshot(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)
	_, err := s.AppendMessage(conv.ID, model.NewUserMessage("hello"))
	require.NoError(t, err)

	snap := s.Current()
	snap.Messages[0].Content = "mutated"
	snap.Messages = append(snap.Messages, model.NewUserMessage("injected"))

	fresh := s.Current()
	require.Equal(t, 1, fresh.MessageCount())
	assert.Equal(t, "hello", fresh.Messages[0].Content)
}

func TestSetCurrent_CopiesInput(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)

	// Mutating the caller's value after SetCurrent must not leak in.
	conv.Title = "smuggled"
	assert.NotEqual(t, "smuggled", s.Current().Title)
}

// =============================================================================
// IDENTITY RECONCILIATION TESTS
// =============================================================================

func TestReplaceConversationID(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)

	ok := s.ReplaceConversationID(conv.ID, "backend-42")
	require.True(t, ok)

	current := s.Current()
	assert.Equal(t, "backend-42", current.ID)
	assert.True(t, current.Provisioned)

	// The known list reflects the same identity.
	metas := s.List()
	require.Len(t, metas, 1)
	assert.Equal(t, "backend-42", metas[0].ID)
	assert.True(t, metas[0].Provisioned)
}

func TestReplaceConversationID_Idempotent(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)

	require.True(t, s.ReplaceConversationID(conv.ID, "backend-42"))

	// A second worker holding the stale local ID must succeed without
	// creating a second identity.
	assert.True(t, s.ReplaceConversationID(conv.ID, "backend-42"))
	assert.Equal(t, "backend-42", s.CurrentID())
	assert.Len(t, s.List(), 1)
}

func TestReplaceConversationID_GoneConversation(t *testing.T) {
	s := New()
	first := model.NewConversation("proj-1")
	s.SetCurrent(first)

	second := model.NewConversation("proj-1")
	s.SetCurrent(second)

	// first is still in the known list, so reconciliation lands there,
	// not on the current conversation.
	require.True(t, s.ReplaceConversationID(first.ID, "backend-42"))
	assert.Equal(t, second.ID, s.CurrentID())

	// An ID the store has never seen is refused.
	assert.False(t, s.ReplaceConversationID("conv_nonexistent", "backend-99"))
}

func TestReplaceConversationID_StaleObserverStillAppends(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)
	localID := conv.ID

	// A background worker reconciles the ID while a turn holding the local
	// ID is still in flight.
	require.True(t, s.ReplaceConversationID(localID, "backend-42"))

	msg, err := s.AppendMessage(localID, model.NewAssistantMessage("late but same conversation"))
	require.NoError(t, err)

	current := s.Current()
	assert.Equal(t, "backend-42", current.ID)
	assert.Equal(t, msg.ID, current.Messages[0].ID)
}

func TestLookup_FollowsAlias(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)
	localID := conv.ID

	meta, ok := s.Lookup(localID)
	require.True(t, ok)
	assert.Equal(t, localID, meta.ID)
	assert.False(t, meta.Provisioned)

	require.True(t, s.ReplaceConversationID(localID, "backend-42"))

	meta, ok = s.Lookup(localID)
	require.True(t, ok)
	assert.Equal(t, "backend-42", meta.ID)
	assert.True(t, meta.Provisioned)

	_, ok = s.Lookup("conv_unknown")
	assert.False(t, ok)
}

// =============================================================================
// RATING TESTS
// =============================================================================

func TestRateMessage(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)
	msg, err := s.AppendMessage(conv.ID, model.NewAssistantMessage("an answer"))
	require.NoError(t, err)

	require.NoError(t, s.RateMessage(conv.ID, msg.ID, model.RatingUp))
	assert.Equal(t, model.RatingUp, s.Current().Messages[0].Rating)

	assert.ErrorIs(t, s.RateMessage(conv.ID, "msg_missing", model.RatingUp), ErrMessageNotFound)
	assert.ErrorIs(t, s.RateMessage("conv_missing", msg.ID, model.RatingUp), ErrConversationNotFound)
	assert.ErrorIs(t, s.RateMessage(conv.ID, msg.ID, model.Rating("meh")), ErrInvalidRating)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestSwitchTo(t *testing.T) {
	s := New()
	first := model.NewConversation("proj-1")
	second := model.NewConversation("proj-1")
	s.SetCurrent(first)
	s.SetCurrent(second)

	require.NoError(t, s.SwitchTo(first.ID))
	assert.Equal(t, first.ID, s.CurrentID())

	assert.ErrorIs(t, s.SwitchTo("conv_missing"), ErrConversationNotFound)
}

func TestReset(t *testing.T) {
	s := New()
	conv := model.NewConversation("proj-1")
	s.SetCurrent(conv)

	s.Reset()
	assert.Nil(t, s.Current())
	assert.Empty(t, s.CurrentID())

	// Known conversations survive a reset.
	assert.Len(t, s.List(), 1)
}
